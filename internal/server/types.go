package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"filigree/internal/domain"
	"filigree/internal/templates"
)

func (h handlers) registerTypes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-types",
		Method:      http.MethodGet,
		Path:        "/types",
		Summary:     "List registered issue types",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TypeSummary
	}, error) {
		reg := h.engine.Registry
		out := make([]TypeSummary, 0)
		for _, name := range reg.Types() {
			if tpl, ok := reg.Template(name); ok {
				out = append(out, typeSummary(tpl))
			}
		}
		return &struct {
			Body []TypeSummary
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-type",
		Method:      http.MethodGet,
		Path:        "/types/{type}",
		Summary:     "Get a type template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Type string `path:"type"`
	}) (*struct {
		Body templates.TypeTemplate
	}, error) {
		tpl, ok := h.engine.Registry.Template(input.Type)
		if !ok {
			return nil, h.handleError(domain.NotFound("type %s is not registered", input.Type))
		}
		return &struct {
			Body templates.TypeTemplate
		}{Body: tpl}, nil
	})
}

func (h handlers) registerTransitions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-transitions",
		Method:      http.MethodGet,
		Path:        "/issues/{id}/transitions",
		Summary:     "Transitions available from the current state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body []templates.TransitionOption
	}, error) {
		opts, err := h.engine.ValidTransitions(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		if opts == nil {
			opts = []templates.TransitionOption{}
		}
		return &struct {
			Body []templates.TransitionOption
		}{Body: opts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-transition",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/transitions/validate",
		Summary:     "Dry-run a status change",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ValidateTransitionRequest
	}) (*struct {
		Body templates.TransitionResult
	}, error) {
		res, err := h.engine.ValidateTransition(ctx, input.ID, input.Body.To, input.Body.Fields)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body templates.TransitionResult
		}{Body: res}, nil
	})
}
