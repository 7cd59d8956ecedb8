package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"filigree/internal/domain"
	"filigree/internal/engine"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

type issuePath struct {
	ID string `path:"id"`
}

type issueBody struct {
	Body domain.Issue
}

type issueResultBody struct {
	Body IssueResult
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string
	}, error) {
		return &struct {
			Body map[string]string
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func (h handlers) registerIssues(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/issues",
		Summary:       "Create issue",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateIssueRequest
	}) (*issueBody, error) {
		b := input.Body
		it, err := h.engine.CreateIssue(ctx, engine.IssueCreateOptions{
			ID:          b.ID,
			Type:        b.Type,
			Title:       b.Title,
			Description: b.Description,
			Priority:    b.Priority,
			Assignee:    b.Assignee,
			ParentID:    b.ParentID,
			Fields:      b.Fields,
			Labels:      b.Labels,
			DependsOn:   b.DependsOn,
			Actor:       actorFromContext(ctx),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &issueBody{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "List issues",
	}, func(ctx context.Context, input *struct {
		Type     string `query:"type"`
		Status   string `query:"status"`
		Category string `query:"category" enum:"open,wip,done"`
		Assignee string `query:"assignee"`
		ParentID string `query:"parent_id"`
		Label    string `query:"label"`
		Limit    int    `query:"limit" minimum:"0"`
	}) (*struct {
		Body []domain.Issue
	}, error) {
		items, err := h.engine.ListIssues(ctx, engine.ListFilter{
			Type:     input.Type,
			Status:   input.Status,
			Category: input.Category,
			Assignee: input.Assignee,
			ParentID: input.ParentID,
			Label:    input.Label,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.Issue
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{id}",
		Summary:     "Get issue",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*issueBody, error) {
		it, err := h.engine.GetIssue(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &issueBody{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPatch,
		Path:        "/issues/{id}",
		Summary:     "Update issue",
		Description: "Applies every change or none. Fields are merged before the status gate runs; a null field value clears it.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateIssueRequest
	}) (*issueResultBody, error) {
		res, err := h.engine.UpdateIssue(ctx, input.Body.options(input.ID, actorFromContext(ctx)))
		if err != nil {
			return nil, h.handleError(err)
		}
		return &issueResultBody{Body: issueResult(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issue-events",
		Method:      http.MethodGet,
		Path:        "/issues/{id}/events",
		Summary:     "Audit log for one issue",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" minimum:"0"`
	}) (*struct {
		Body []domain.Event
	}, error) {
		evs, err := h.engine.Events(ctx, input.ID, input.Limit)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.Event
		}{Body: evs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log across issues",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" default:"100"`
	}) (*struct {
		Body []domain.Event
	}, error) {
		evs, err := h.engine.Events(ctx, "", input.Limit)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.Event
		}{Body: evs}, nil
	})
}

func (h handlers) registerLifecycle(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "close-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/close",
		Summary:     "Close issue",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body CloseIssueRequest
	}) (*issueResultBody, error) {
		res, err := h.engine.CloseIssue(ctx, input.ID, engine.CloseOptions{
			Status: input.Body.Status,
			Fields: input.Body.Fields,
			Reason: input.Body.Reason,
			Actor:  actorFromContext(ctx),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &issueResultBody{Body: issueResult(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/reopen",
		Summary:     "Reopen issue",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *issuePath) (*issueResultBody, error) {
		res, err := h.engine.ReopenIssue(ctx, input.ID, actorFromContext(ctx))
		if err != nil {
			return nil, h.handleError(err)
		}
		return &issueResultBody{Body: issueResult(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/claim",
		Summary:     "Claim issue",
		Description: "Atomically assigns an open, unclaimed issue. Exactly one of several concurrent claimants wins.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ClaimRequest
	}) (*issueBody, error) {
		actor := actorFromContext(ctx)
		assignee := input.Body.Assignee
		if assignee == "" {
			assignee = actor
		}
		it, err := h.engine.ClaimIssue(ctx, input.ID, assignee, actor)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &issueBody{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/release",
		Summary:     "Release claim",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *issuePath) (*issueBody, error) {
		it, err := h.engine.ReleaseIssue(ctx, input.ID, actorFromContext(ctx))
		if err != nil {
			return nil, h.handleError(err)
		}
		return &issueBody{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-next",
		Method:      http.MethodPost,
		Path:        "/claim-next",
		Summary:     "Claim the next ready issue",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body ClaimNextRequest
	}) (*struct {
		Body ClaimNextResponse
	}, error) {
		assignee := input.Body.Assignee
		if assignee == "" {
			assignee = actorFromContext(ctx)
		}
		it, err := h.engine.ClaimNext(ctx, assignee, engine.ReadyFilter{Types: input.Body.Types, Label: input.Body.Label})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body ClaimNextResponse
		}{Body: ClaimNextResponse{Claimed: it != nil, Issue: it}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "batch-close",
		Method:      http.MethodPost,
		Path:        "/batch/close",
		Summary:     "Close several issues",
		Description: "Each id succeeds or fails on its own.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body BatchCloseRequest
	}) (*struct {
		Body BatchResponse
	}, error) {
		results := h.engine.BatchClose(ctx, input.Body.IDs, engine.CloseOptions{
			Status: input.Body.Status,
			Fields: input.Body.Fields,
			Reason: input.Body.Reason,
			Actor:  actorFromContext(ctx),
		})
		return &struct {
			Body BatchResponse
		}{Body: BatchResponse{Results: results, Failed: engine.Failed(results)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "batch-update",
		Method:      http.MethodPost,
		Path:        "/batch/update",
		Summary:     "Apply one update to several issues",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body BatchUpdateRequest
	}) (*struct {
		Body BatchResponse
	}, error) {
		results := h.engine.BatchUpdate(ctx, input.Body.IDs, input.Body.Update.options("", actorFromContext(ctx)))
		return &struct {
			Body BatchResponse
		}{Body: BatchResponse{Results: results, Failed: engine.Failed(results)}}, nil
	})
}
