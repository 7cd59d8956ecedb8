package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"filigree/internal/config"
	"filigree/internal/db"
	"filigree/internal/domain"
	"filigree/internal/events"
	"filigree/internal/logging"
	"filigree/internal/repo"
	"filigree/internal/templates"
)

// Engine is the mutation coordinator. Every mutating method runs its reads,
// checks and writes, audit records included, in a single transaction.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Audit    events.Writer
	Registry *templates.Registry
	Config   *config.Config
	Logger   *log.Logger
	Now      func() time.Time
}

func New(conn *sql.DB, reg *templates.Registry, cfg *config.Config, logger *log.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return Engine{
		DB:       conn,
		Repo:     repo.Repo{DB: conn},
		Registry: reg,
		Config:   cfg,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	return db.BeginTx(ctx, e.DB)
}

func (e Engine) audit(ctx context.Context, tx *sql.Tx, rec events.Record) error {
	w := e.Audit
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, rec)
}

func (e Engine) newID() string {
	prefix := "fg"
	if e.Config != nil && e.Config.Project.Prefix != "" {
		prefix = e.Config.Project.Prefix
	}
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// loadIssue reads an issue inside tx and fills in its derived attributes.
func (e Engine) loadIssue(ctx context.Context, q repo.DBTX, id string) (domain.Issue, error) {
	it, err := e.Repo.GetIssueTx(ctx, q, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return it, domain.NotFound("issue %s not found", id)
		}
		return it, err
	}
	return e.hydrate(ctx, q, it)
}

func (e Engine) hydrate(ctx context.Context, q repo.DBTX, it domain.Issue) (domain.Issue, error) {
	it.StatusCategory, _ = e.Registry.Category(it.Type, it.Status)
	labels, err := e.Repo.ListLabels(ctx, q, it.ID)
	if err != nil {
		return it, err
	}
	it.Labels = labels
	deps, err := e.Repo.ListDependsOn(ctx, q, it.ID)
	if err != nil {
		return it, err
	}
	it.DependsOn = deps
	return it, nil
}

// template returns the registered template for a type or a validation error.
func (e Engine) template(typeName string) (templates.TypeTemplate, error) {
	tpl, ok := e.Registry.Template(typeName)
	if !ok {
		return tpl, domain.Validation("unknown issue type %q", typeName)
	}
	return tpl, nil
}

// transitionError turns a rejected gate result into the matching error kind.
func transitionError(from, to string, res templates.TransitionResult) error {
	if len(res.MissingFields) > 0 && res.Enforcement == templates.EnforcementHard {
		return domain.HardGate(from, to, res.MissingFields)
	}
	return domain.TransitionRejected("%s", res.Reason)
}

// warnTransition records soft gate misses as audit entries.
func (e Engine) warnTransition(ctx context.Context, tx *sql.Tx, it domain.Issue, actor, from, to string, res templates.TransitionResult) error {
	for _, w := range res.Warnings {
		if err := e.audit(ctx, tx, events.Record{
			Type:     domain.EventTransitionWarning,
			IssueID:  it.ID,
			Actor:    actor,
			OldValue: from,
			NewValue: to,
			Payload:  events.EventPayload{"warning": w, "missing_fields": res.MissingFields},
		}); err != nil {
			return err
		}
	}
	return nil
}

// setStatus moves the issue to status and keeps closed_at in step with the
// done category.
func (e Engine) setStatus(it *domain.Issue, status, now string) {
	cat, _ := e.Registry.Category(it.Type, status)
	it.Status = status
	it.StatusCategory = cat
	if cat == domain.CategoryDone {
		if it.ClosedAt == nil {
			it.ClosedAt = &now
		}
		return
	}
	it.ClosedAt = nil
}

func mergeFields(current, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(incoming))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range incoming {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

func copyIssue(it domain.Issue) domain.Issue {
	out := it
	out.Fields = mergeFields(it.Fields, nil)
	out.Labels = append([]string(nil), it.Labels...)
	out.DependsOn = append([]string(nil), it.DependsOn...)
	return out
}

func fmtValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
