package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"filigree/internal/domain"
	"filigree/internal/engine"
)

func (h handlers) registerGraph(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "add-dependency",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/dependencies",
		Summary:     "Add blocking dependency",
		Description: "Rejected with 409 and the offending path when the edge would close a cycle.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body AddDependencyRequest
	}) (*struct {
		Body DependencyResponse
	}, error) {
		added, err := h.engine.AddDependency(ctx, input.ID, input.Body.DependsOn, actorFromContext(ctx))
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body DependencyResponse
		}{Body: DependencyResponse{IssueID: input.ID, DependsOn: input.Body.DependsOn, Changed: added}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-dependency",
		Method:      http.MethodDelete,
		Path:        "/issues/{id}/dependencies/{depends_on}",
		Summary:     "Remove dependency",
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		DependsOn string `path:"depends_on"`
	}) (*struct {
		Body DependencyResponse
	}, error) {
		removed, err := h.engine.RemoveDependency(ctx, input.ID, input.DependsOn, actorFromContext(ctx))
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body DependencyResponse
		}{Body: DependencyResponse{IssueID: input.ID, DependsOn: input.DependsOn, Changed: removed}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ready",
		Method:      http.MethodGet,
		Path:        "/ready",
		Summary:     "Ready issues in work order",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type" doc:"Comma-separated issue types"`
		Assignee   string `query:"assignee"`
		Unassigned bool   `query:"unassigned"`
		Label      string `query:"label"`
		Limit      int    `query:"limit" minimum:"0"`
	}) (*struct {
		Body []domain.Issue
	}, error) {
		f := engine.ReadyFilter{Assignee: input.Assignee, Unassigned: input.Unassigned, Label: input.Label, Limit: input.Limit}
		if input.Type != "" {
			f.Types = strings.Split(input.Type, ",")
		}
		items, err := h.engine.Ready(ctx, f)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.Issue
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "blocked",
		Method:      http.MethodGet,
		Path:        "/blocked",
		Summary:     "Blocked issues with their blockers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []engine.BlockedIssue
	}, error) {
		items, err := h.engine.Blocked(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []engine.BlockedIssue
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "critical-path",
		Method:      http.MethodGet,
		Path:        "/critical-path",
		Summary:     "Longest chain of unfinished blocking work",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Issue
	}, error) {
		items, err := h.engine.CriticalPath(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.Issue
		}{Body: items}, nil
	})
}
