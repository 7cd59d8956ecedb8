// Package server exposes the engine over HTTP with huma on a chi router.
package server

import (
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"filigree/internal/domain"
	"filigree/internal/engine"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *log.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"hard_gate"`
	Message string         `json:"message" example:"transition verifying -> closed requires fields"`
	Details map[string]any `json:"details,omitempty"`
}

// apiError is the error envelope every failing response uses.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the filigree API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, errorDetails(errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Request schema failures are client input errors; 422 is kept for
			// workflow rejections.
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg, errorDetails(errs))
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	open := []string{
		path.Join(basePath, "health"),
		path.Join(basePath, "openapi.json"),
		path.Join(basePath, "openapi.yaml"),
		path.Join(basePath, "docs"),
	}
	router.Use(newAuthMiddleware(basePath, open, cfg.Auth))

	hcfg := huma.DefaultConfig("filigree API", "1.0.0")
	hcfg.OpenAPIPath = path.Join(basePath, "openapi")
	hcfg.DocsPath = path.Join(basePath, "docs")
	hcfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
	}
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, logger: logger}
	registerHealth(group)
	h.registerTypes(group)
	h.registerIssues(group)
	h.registerLifecycle(group)
	h.registerGraph(group)
	h.registerTransitions(group)
	return router, nil
}

type handlers struct {
	engine engine.Engine
	logger *log.Logger
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message, Details: details}}
}

func errorDetails(errs []error) map[string]any {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return map[string]any{"errors": msgs}
}

// handleError maps engine error kinds onto status codes. Anything untagged
// is logged and reported as an internal error.
func (h handlers) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if !errors.As(err, &de) {
		h.logger.Error("request failed", "err", err)
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
	code := string(de.Kind)
	switch de.Kind {
	case domain.KindNotFound:
		return newAPIError(http.StatusNotFound, code, err.Error(), nil)
	case domain.KindValidation:
		return newAPIError(http.StatusBadRequest, code, err.Error(), nil)
	case domain.KindCycle:
		return newAPIError(http.StatusConflict, code, err.Error(), map[string]any{"path": de.Path})
	case domain.KindConflict:
		return newAPIError(http.StatusConflict, code, err.Error(), map[string]any{"reason": de.Reason})
	case domain.KindTransitionRejected:
		return newAPIError(http.StatusUnprocessableEntity, code, err.Error(), nil)
	case domain.KindHardGate:
		return newAPIError(http.StatusUnprocessableEntity, code, err.Error(), map[string]any{"missing_fields": de.MissingFields})
	}
	h.logger.Error("unmapped error kind", "kind", de.Kind, "err", err)
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
