package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/tokengate/tokengate/internal/config"
)

// serveLive runs one request through the live middleware.
func serveLive(t *testing.T, mw func(http.Handler) http.Handler, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, r)
	return rec
}

func bearerRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/widgets", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestLiveNilProviderPassesThrough(t *testing.T) {
	t.Parallel()

	mw := Live(context.Background(), nil, Backends{}, Hooks{}, nil)

	rec := serveLive(t, mw, httptest.NewRequest(http.MethodGet, "/v1/widgets", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 without a config provider, got %d", rec.Code)
	}
}

func TestLiveNilConfigPassesThrough(t *testing.T) {
	t.Parallel()

	runtime := config.NewRuntime(nil)
	mw := Live(context.Background(), runtime, Backends{}, Hooks{}, nil)

	rec := serveLive(t, mw, httptest.NewRequest(http.MethodGet, "/v1/widgets", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 without a config, got %d", rec.Code)
	}
}

func TestLiveEnforcesCurrentConfig(t *testing.T) {
	t.Parallel()

	runtime := config.NewRuntime(staticConfig("token-a", "ci"))
	mw := Live(context.Background(), runtime, Backends{}, Hooks{}, nil)

	if rec := serveLive(t, mw, bearerRequest("token-a")); rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 for the configured token, got %d", rec.Code)
	}
	if rec := serveLive(t, mw, bearerRequest("token-b")); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for an unknown token, got %d", rec.Code)
	}
}

func TestLiveRecompilesOnConfigChange(t *testing.T) {
	t.Parallel()

	runtime := config.NewRuntime(staticConfig("token-a", "ci"))
	mw := Live(context.Background(), runtime, Backends{}, Hooks{}, nil)

	if rec := serveLive(t, mw, bearerRequest("token-a")); rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 before reload, got %d", rec.Code)
	}

	runtime.Store(staticConfig("token-b", "ci"))

	if rec := serveLive(t, mw, bearerRequest("token-a")); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for the retired token, got %d", rec.Code)
	}
	if rec := serveLive(t, mw, bearerRequest("token-b")); rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 for the new token, got %d", rec.Code)
	}
}

func TestLiveKeepsPreviousPipelineOnFailedRecompile(t *testing.T) {
	t.Parallel()

	runtime := config.NewRuntime(staticConfig("token-a", "ci"))
	mw := Live(context.Background(), runtime, Backends{}, Hooks{}, nil)

	if rec := serveLive(t, mw, bearerRequest("token-a")); rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 before reload, got %d", rec.Code)
	}

	broken := &config.Config{
		Auth: config.AuthConfig{
			Strategies: []config.StrategyConfig{{
				Type:          config.StrategyJWT,
				PublicKeyFile: filepath.Join(t.TempDir(), "absent.pem"),
			}},
		},
	}
	runtime.Store(broken)

	// The previous pipeline keeps serving after the failed rebuild.
	if rec := serveLive(t, mw, bearerRequest("token-a")); rec.Code != http.StatusOK {
		t.Errorf("Expected the previous pipeline to keep serving, got %d", rec.Code)
	}
	if rec := serveLive(t, mw, bearerRequest("token-a")); rec.Code != http.StatusOK {
		t.Errorf("Expected the fallback to be cached, got %d", rec.Code)
	}
}

func TestLiveDeniesWhenFirstCompileFails(t *testing.T) {
	t.Parallel()

	broken := &config.Config{
		Auth: config.AuthConfig{
			Strategies: []config.StrategyConfig{{
				Type:          config.StrategyJWT,
				PublicKeyFile: filepath.Join(t.TempDir(), "absent.pem"),
			}},
		},
	}
	runtime := config.NewRuntime(broken)
	mw := Live(context.Background(), runtime, Backends{}, Hooks{}, nil)

	// With no working pipeline to fall back to, every request is denied.
	if rec := serveLive(t, mw, bearerRequest("token-a")); rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500 with no working pipeline, got %d", rec.Code)
	}
}

func TestLiveBasePathParticipatesInFingerprint(t *testing.T) {
	t.Parallel()

	withBase := func(base string) *config.Config {
		cfg := staticConfig("token-a", "ci")
		cfg.Server.BasePath = base
		cfg.Auth.Exclusions = []config.ExclusionRule{{Pattern: "^/status$"}}
		return cfg
	}

	runtime := config.NewRuntime(withBase(""))
	mw := Live(context.Background(), runtime, Backends{}, Hooks{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody)
	if rec := serveLive(t, mw, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401 before the base path change, got %d", rec.Code)
	}

	runtime.Store(withBase("/api"))

	req = httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody)
	if rec := serveLive(t, mw, req); rec.Code != http.StatusOK {
		t.Errorf("Expected the exclusion to match after the base path change, got %d", rec.Code)
	}
}

func TestGuardStoreReturnsCachedPipeline(t *testing.T) {
	t.Parallel()

	store := &guardStore{}
	cfg := staticConfig("token-a", "ci")
	fp := pipelineFingerprint(cfg)

	first := store.getOrBuild(context.Background(), fp, cfg, Backends{}, Hooks{}, nil)
	second := store.getOrBuild(context.Background(), fp, cfg, Backends{}, Hooks{}, nil)

	if first != second {
		t.Error("Expected the cached pipeline for an unchanged fingerprint")
	}
}

func TestGuardStoreRebuildsOnNewFingerprint(t *testing.T) {
	t.Parallel()

	store := &guardStore{}

	cfgA := staticConfig("token-a", "ci")
	cfgB := staticConfig("token-b", "ci")

	first := store.getOrBuild(context.Background(), pipelineFingerprint(cfgA), cfgA, Backends{}, Hooks{}, nil)
	second := store.getOrBuild(context.Background(), pipelineFingerprint(cfgB), cfgB, Backends{}, Hooks{}, nil)

	if first == second {
		t.Error("Expected a recompiled pipeline for a changed fingerprint")
	}
}
