package engine

import (
	"context"
	"database/sql"

	"filigree/internal/domain"
	"filigree/internal/events"
)

type CloseOptions struct {
	// Status picks a specific done state; empty means the type's first one.
	Status string
	Fields map[string]any
	Reason string
	Actor  string
}

// CloseIssue moves an issue into a done state from wherever it is. The
// transition table is not consulted, but the field gate for the resolved
// transition still applies.
func (e Engine) CloseIssue(ctx context.Context, id string, opts CloseOptions) (UpdateResult, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return UpdateResult{}, err
	}
	defer tx.Rollback()
	res, err := e.closeTx(ctx, tx, id, opts)
	if err != nil {
		return UpdateResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return UpdateResult{}, err
	}
	e.Logger.Debug("issue closed", "id", id, "status", res.Issue.Status)
	return res, nil
}

func (e Engine) closeTx(ctx context.Context, tx *sql.Tx, id string, opts CloseOptions) (UpdateResult, error) {
	cur, err := e.loadIssue(ctx, tx, id)
	if err != nil {
		return UpdateResult{}, err
	}
	tpl, err := e.template(cur.Type)
	if err != nil {
		return UpdateResult{}, err
	}
	if cur.StatusCategory == domain.CategoryDone {
		return UpdateResult{}, domain.TransitionRejected("issue %s is already closed (%s)", id, cur.Status)
	}
	target := opts.Status
	if target == "" {
		first, ok := e.Registry.FirstState(cur.Type, domain.CategoryDone)
		if !ok {
			return UpdateResult{}, domain.Validation("type %s has no done state", cur.Type)
		}
		target = first
	} else if st, ok := tpl.State(target); !ok {
		return UpdateResult{}, domain.Validation("%q is not a state of type %s", target, cur.Type)
	} else if st.Category != domain.CategoryDone {
		return UpdateResult{}, domain.Validation("%q is not a done state of type %s", target, cur.Type)
	}
	fields, err := normalizeFields(tpl, opts.Fields)
	if err != nil {
		return UpdateResult{}, err
	}

	next := copyIssue(cur)
	next.Fields = mergeFields(cur.Fields, fields)
	gate := e.Registry.CheckGate(cur.Type, cur.Status, target, next.Fields)
	if !gate.Allowed {
		return UpdateResult{}, transitionError(cur.Status, target, gate)
	}
	now := e.timestamp()
	e.setStatus(&next, target, now)
	next.UpdatedAt = now
	if err := e.Repo.UpdateIssue(ctx, tx, next); err != nil {
		return UpdateResult{}, err
	}
	if err := e.warnTransition(ctx, tx, cur, opts.Actor, cur.Status, target, gate); err != nil {
		return UpdateResult{}, err
	}
	if keys := diffKeys(cur.Fields, next.Fields); len(keys) > 0 {
		if err := e.audit(ctx, tx, events.Record{Type: domain.EventFieldsChanged, IssueID: id, Actor: opts.Actor, Payload: events.EventPayload{"fields": keys}}); err != nil {
			return UpdateResult{}, err
		}
	}
	payload := events.EventPayload{}
	if opts.Reason != "" {
		payload["reason"] = opts.Reason
	}
	if err := e.audit(ctx, tx, events.Record{Type: domain.EventClosed, IssueID: id, Actor: opts.Actor, OldValue: cur.Status, NewValue: target, Payload: payload}); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Issue: next, Warnings: gate.Warnings}, nil
}

// ReopenIssue returns a done issue to its type's initial state.
func (e Engine) ReopenIssue(ctx context.Context, id, actor string) (UpdateResult, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return UpdateResult{}, err
	}
	defer tx.Rollback()

	cur, err := e.loadIssue(ctx, tx, id)
	if err != nil {
		return UpdateResult{}, err
	}
	tpl, err := e.template(cur.Type)
	if err != nil {
		return UpdateResult{}, err
	}
	if cur.StatusCategory != domain.CategoryDone {
		return UpdateResult{}, domain.TransitionRejected("issue %s is not closed (%s)", id, cur.Status)
	}
	gate := e.Registry.CheckGate(cur.Type, cur.Status, tpl.InitialState, cur.Fields)
	if !gate.Allowed {
		return UpdateResult{}, transitionError(cur.Status, tpl.InitialState, gate)
	}
	next := copyIssue(cur)
	now := e.timestamp()
	e.setStatus(&next, tpl.InitialState, now)
	next.UpdatedAt = now
	if err := e.Repo.UpdateIssue(ctx, tx, next); err != nil {
		return UpdateResult{}, err
	}
	if err := e.warnTransition(ctx, tx, cur, actor, cur.Status, next.Status, gate); err != nil {
		return UpdateResult{}, err
	}
	if err := e.audit(ctx, tx, events.Record{Type: domain.EventReopened, IssueID: id, Actor: actor, OldValue: cur.Status, NewValue: next.Status}); err != nil {
		return UpdateResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Issue: next, Warnings: gate.Warnings}, nil
}
