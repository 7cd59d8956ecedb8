package engine

import (
	"context"

	"filigree/internal/domain"
	"filigree/internal/templates"
)

// ValidTransitions lists the moves available from the issue's current state,
// each annotated with which required fields are still missing.
func (e Engine) ValidTransitions(ctx context.Context, id string) ([]templates.TransitionOption, error) {
	it, err := e.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := e.template(it.Type); err != nil {
		return nil, err
	}
	return e.Registry.ValidTransitions(it.Type, it.Status, it.Fields), nil
}

// ValidateTransition dry-runs a status change with fields merged over the
// stored ones. Nothing is written.
func (e Engine) ValidateTransition(ctx context.Context, id, to string, fields map[string]any) (templates.TransitionResult, error) {
	it, err := e.GetIssue(ctx, id)
	if err != nil {
		return templates.TransitionResult{}, err
	}
	tpl, err := e.template(it.Type)
	if err != nil {
		return templates.TransitionResult{}, err
	}
	if _, ok := tpl.State(to); !ok {
		return templates.TransitionResult{}, domain.Validation("%q is not a state of type %s", to, it.Type)
	}
	incoming, err := normalizeFields(tpl, fields)
	if err != nil {
		return templates.TransitionResult{}, err
	}
	return e.Registry.ValidateTransition(it.Type, it.Status, to, mergeFields(it.Fields, incoming)), nil
}

// Events returns audit entries newest first. An empty id lists across all
// issues.
func (e Engine) Events(ctx context.Context, id string, limit int) ([]domain.Event, error) {
	if id != "" {
		exists, err := e.Repo.IssueExists(ctx, e.DB, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, domain.NotFound("issue %s not found", id)
		}
	}
	return e.Repo.ListEvents(ctx, id, limit)
}
