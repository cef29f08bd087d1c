package guard

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"

	"github.com/tokengate/tokengate/internal/auth"
)

// Category groups failure kinds by the response they produce. Each category
// has an independently configurable status and body builder.
type Category string

const (
	// CategoryUnauthorized covers absent and unverifiable credentials.
	CategoryUnauthorized Category = "unauthorized"
	// CategoryBadRequest covers credentials the parser could not accept.
	CategoryBadRequest Category = "bad_request"
	// CategoryServerError covers pipeline faults.
	CategoryServerError Category = "server_error"
)

// CategoryOf maps a failure kind to its response category. Unknown kinds
// land in CategoryUnauthorized so new kinds fail closed.
func CategoryOf(kind auth.FailureKind) Category {
	switch kind {
	case auth.FailMalformedHeader, auth.FailSchemeMismatch, auth.FailMissingToken:
		return CategoryBadRequest
	case auth.FailInternal:
		return CategoryServerError
	default:
		return CategoryUnauthorized
	}
}

// ErrorType is the machine-readable error code the response envelope carries
// for the category.
func (c Category) ErrorType() string {
	switch c {
	case CategoryBadRequest:
		return "invalid_request_error"
	case CategoryServerError:
		return "api_error"
	default:
		return "authentication_error"
	}
}

// DefaultBodyTemplate is the JSON error envelope rendered when no custom
// template is configured.
const DefaultBodyTemplate = `{"type":"error","error":{"type":"","message":""}}`

// Statuses maps each category to the status it produces.
type Statuses struct {
	Unauthorized int
	BadRequest   int
	ServerError  int
}

func defaultStatuses() Statuses {
	return Statuses{
		Unauthorized: http.StatusUnauthorized,
		BadRequest:   http.StatusBadRequest,
		ServerError:  http.StatusInternalServerError,
	}
}

// BodyBuilder renders the response body for one category. An empty return
// produces a body-less response.
type BodyBuilder func(r *http.Request, res auth.ChainResult) []byte

// Dispatcher owns status selection and body rendering for terminal denials.
// Default bodies render the configured JSON template (or the default
// envelope) with the error type, denial message, and request id injected by
// path. Per-category builders override the default rendering.
type Dispatcher struct {
	statuses Statuses
	template string
	builders map[Category]BodyBuilder
}

// NewDispatcher builds a dispatcher. Zero statuses fall back to 401/400/500;
// an empty template uses DefaultBodyTemplate.
func NewDispatcher(statuses Statuses, template string) *Dispatcher {
	defaults := defaultStatuses()
	if statuses.Unauthorized == 0 {
		statuses.Unauthorized = defaults.Unauthorized
	}
	if statuses.BadRequest == 0 {
		statuses.BadRequest = defaults.BadRequest
	}
	if statuses.ServerError == 0 {
		statuses.ServerError = defaults.ServerError
	}
	if template == "" {
		template = DefaultBodyTemplate
	}

	return &Dispatcher{
		statuses: statuses,
		template: template,
		builders: map[Category]BodyBuilder{},
	}
}

// SetBuilder overrides the body builder for a category. A nil builder makes
// the category's responses body-less.
func (d *Dispatcher) SetBuilder(cat Category, builder BodyBuilder) {
	d.builders[cat] = builder
}

// Status returns the status written for a category.
func (d *Dispatcher) Status(cat Category) int {
	switch cat {
	case CategoryBadRequest:
		return d.statuses.BadRequest
	case CategoryServerError:
		return d.statuses.ServerError
	default:
		return d.statuses.Unauthorized
	}
}

// Write emits the mapped status and rendered body for a denial.
func (d *Dispatcher) Write(w http.ResponseWriter, r *http.Request, res auth.ChainResult, requestID RequestIDFunc) {
	cat := CategoryOf(res.Kind)
	status := d.Status(cat)

	body := d.render(cat, r, res, requestID)
	if len(body) == 0 {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to write denial response")
	}
}

func (d *Dispatcher) render(cat Category, r *http.Request, res auth.ChainResult, requestID RequestIDFunc) []byte {
	if builder, ok := d.builders[cat]; ok {
		if builder == nil {
			return nil
		}
		return builder(r, res)
	}
	return d.templateBody(cat, r, res, requestID)
}

// templateBody renders the JSON template for a denial. sjson failures on a
// malformed template fall back to the default envelope so a denial always
// carries a parseable body.
func (d *Dispatcher) templateBody(cat Category, r *http.Request, res auth.ChainResult, requestID RequestIDFunc) []byte {
	body, err := sjson.Set(d.template, "error.type", cat.ErrorType())
	if err != nil {
		body, _ = sjson.Set(DefaultBodyTemplate, "error.type", cat.ErrorType())
	}
	body, _ = sjson.Set(body, "error.message", publicMessage(res))

	if requestID != nil {
		if id := requestID(r); id != "" {
			body, _ = sjson.Set(body, "error.request_id", id)
		}
	}

	return []byte(body)
}

// publicMessage is the denial text callers see. Internal faults are masked
// so pipeline details never leak into responses.
func publicMessage(res auth.ChainResult) string {
	if res.Kind == auth.FailInternal {
		return "authentication could not be completed"
	}
	if res.Err != nil {
		return res.Err.Error()
	}
	return string(res.Kind)
}
