package di

import (
	"github.com/samber/do/v2"

	"github.com/tokengate/tokengate/internal/audit"
)

// AuditService wraps the authentication decision recorder for DI.
type AuditService struct {
	Recorder *audit.Recorder
}

// NewAudit creates the decision recorder with default buffering.
func NewAudit(i do.Injector) (*AuditService, error) {
	loggerSvc := do.MustInvoke[*LoggerService](i)

	recorder := audit.NewRecorder(loggerSvc.Logger, audit.Options{})

	return &AuditService{Recorder: recorder}, nil
}

// Shutdown implements do.Shutdowner; it drains and stops the recorder.
func (a *AuditService) Shutdown() error {
	if a.Recorder != nil {
		return a.Recorder.Close()
	}
	return nil
}
