package engine

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"sort"
	"strings"

	"filigree/internal/domain"
	"filigree/internal/events"
	"filigree/internal/repo"
)

// IssueCreateOptions are parameters for creating an issue.
type IssueCreateOptions struct {
	ID          string
	Type        string
	Title       string
	Description string
	Priority    *int
	Assignee    string
	ParentID    string
	Fields      map[string]any
	Labels      []string
	DependsOn   []string
	Actor       string
}

// CreateIssue validates every input before writing anything, then inserts
// the issue, its creation record, labels and dependency edges together.
func (e Engine) CreateIssue(ctx context.Context, opts IssueCreateOptions) (domain.Issue, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Issue{}, domain.Validation("title is required")
	}
	priority := domain.DefaultPriority
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	if priority < domain.MinPriority || priority > domain.MaxPriority {
		return domain.Issue{}, domain.Validation("priority must be between %d and %d", domain.MinPriority, domain.MaxPriority)
	}
	typeName := opts.Type
	if typeName == "" {
		typeName = "task"
	}
	tpl, err := e.template(typeName)
	if err != nil {
		return domain.Issue{}, err
	}
	labels, err := normalizeLabels(opts.Labels)
	if err != nil {
		return domain.Issue{}, err
	}
	fields, err := normalizeFields(tpl, opts.Fields)
	if err != nil {
		return domain.Issue{}, err
	}
	id := opts.ID
	if id == "" {
		id = e.newID()
	}
	deps := dedupe(opts.DependsOn)
	for _, d := range deps {
		if d == id {
			return domain.Issue{}, domain.Validation("issue %s cannot depend on itself", id)
		}
	}
	if opts.ParentID != "" && opts.ParentID == id {
		return domain.Issue{}, domain.Validation("issue %s cannot be its own parent", id)
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	if opts.ID != "" {
		exists, err := e.Repo.IssueExists(ctx, tx, id)
		if err != nil {
			return domain.Issue{}, err
		}
		if exists {
			return domain.Issue{}, domain.Validation("issue %s already exists", id)
		}
	}
	if opts.ParentID != "" {
		exists, err := e.Repo.IssueExists(ctx, tx, opts.ParentID)
		if err != nil {
			return domain.Issue{}, err
		}
		if !exists {
			return domain.Issue{}, domain.Validation("parent %s does not exist", opts.ParentID)
		}
	}
	missing, err := e.Repo.MissingIssues(ctx, tx, deps)
	if err != nil {
		return domain.Issue{}, err
	}
	if len(missing) > 0 {
		return domain.Issue{}, domain.Validation("dependency targets do not exist: %s", strings.Join(missing, ", "))
	}

	now := e.timestamp()
	it := domain.Issue{
		ID:          id,
		Type:        typeName,
		Title:       title,
		Description: opts.Description,
		Priority:    priority,
		Assignee:    strings.TrimSpace(opts.Assignee),
		Fields:      mergeFields(tpl.FieldDefaults(), fields),
		Labels:      labels,
		DependsOn:   deps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.ParentID != "" {
		parent := opts.ParentID
		it.ParentID = &parent
	}
	e.setStatus(&it, tpl.InitialState, now)

	if err := e.Repo.InsertIssue(ctx, tx, it); err != nil {
		return domain.Issue{}, err
	}
	if err := e.audit(ctx, tx, events.Record{
		Type:     domain.EventCreated,
		IssueID:  it.ID,
		Actor:    opts.Actor,
		NewValue: it.Status,
		Payload:  events.EventPayload{"title": it.Title, "type": it.Type, "priority": it.Priority, "labels": it.Labels},
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := e.Repo.InsertLabels(ctx, tx, it.ID, labels); err != nil {
		return domain.Issue{}, err
	}
	for _, d := range deps {
		if _, err := e.Repo.AddDependency(ctx, tx, domain.Dependency{IssueID: it.ID, DependsOnID: d, Type: domain.DependencyBlocks, CreatedAt: now}); err != nil {
			return domain.Issue{}, err
		}
		if err := e.audit(ctx, tx, events.Record{Type: domain.EventDependencyAdded, IssueID: it.ID, Actor: opts.Actor, NewValue: d}); err != nil {
			return domain.Issue{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	e.Logger.Debug("issue created", "id", it.ID, "type", it.Type, "status", it.Status)
	return it, nil
}

// IssueUpdateOptions encapsulates allowed updates. Nil pointers leave the
// attribute alone; an empty ParentID or Assignee clears it.
type IssueUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Priority    *int
	Assignee    *string
	ParentID    *string
	Status      string
	Fields      map[string]any
	// Override skips the transition table but not hard field gates.
	Override bool
	Actor    string
}

type UpdateResult struct {
	Issue    domain.Issue `json:"issue"`
	Warnings []string     `json:"warnings,omitempty"`
}

// UpdateIssue applies every requested change or none of them. Incoming
// fields are merged before the status gate runs, so a call can set a
// required field and move through the gate it guards.
func (e Engine) UpdateIssue(ctx context.Context, opts IssueUpdateOptions) (UpdateResult, error) {
	if opts.Title != nil && strings.TrimSpace(*opts.Title) == "" {
		return UpdateResult{}, domain.Validation("title cannot be empty")
	}
	if opts.Priority != nil && (*opts.Priority < domain.MinPriority || *opts.Priority > domain.MaxPriority) {
		return UpdateResult{}, domain.Validation("priority must be between %d and %d", domain.MinPriority, domain.MaxPriority)
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return UpdateResult{}, err
	}
	defer tx.Rollback()

	res, changed, err := e.updateTx(ctx, tx, opts)
	if err != nil {
		return UpdateResult{}, err
	}
	if !changed {
		return res, nil
	}
	if err := tx.Commit(); err != nil {
		return UpdateResult{}, err
	}
	return res, nil
}

func (e Engine) updateTx(ctx context.Context, tx *sql.Tx, opts IssueUpdateOptions) (UpdateResult, bool, error) {
	cur, err := e.loadIssue(ctx, tx, opts.ID)
	if err != nil {
		return UpdateResult{}, false, err
	}
	tpl, err := e.template(cur.Type)
	if err != nil {
		return UpdateResult{}, false, err
	}
	fields, err := normalizeFields(tpl, opts.Fields)
	if err != nil {
		return UpdateResult{}, false, err
	}

	next := copyIssue(cur)
	now := e.timestamp()
	var recs []events.Record
	record := func(typ, oldV, newV string, payload events.EventPayload) {
		recs = append(recs, events.Record{Type: typ, IssueID: cur.ID, Actor: opts.Actor, OldValue: oldV, NewValue: newV, Payload: payload})
	}

	if opts.Title != nil {
		if t := strings.TrimSpace(*opts.Title); t != cur.Title {
			next.Title = t
			record(domain.EventTitleChanged, cur.Title, t, nil)
		}
	}
	if opts.Description != nil && *opts.Description != cur.Description {
		next.Description = *opts.Description
		record(domain.EventDescriptionChange, "", "", nil)
	}
	if opts.Priority != nil && *opts.Priority != cur.Priority {
		next.Priority = *opts.Priority
		record(domain.EventPriorityChanged, fmtValue(cur.Priority), fmtValue(next.Priority), nil)
	}
	if opts.Assignee != nil {
		if a := strings.TrimSpace(*opts.Assignee); a != cur.Assignee {
			next.Assignee = a
			record(domain.EventAssigneeChanged, cur.Assignee, a, nil)
		}
	}
	if opts.ParentID != nil {
		oldParent := ""
		if cur.ParentID != nil {
			oldParent = *cur.ParentID
		}
		if p := *opts.ParentID; p != oldParent {
			if p == "" {
				next.ParentID = nil
			} else {
				if err := e.checkParent(ctx, tx, cur.ID, p); err != nil {
					return UpdateResult{}, false, err
				}
				next.ParentID = &p
			}
			record(domain.EventParentChanged, oldParent, p, nil)
		}
	}
	if len(fields) > 0 {
		next.Fields = mergeFields(cur.Fields, fields)
		if changedKeys := diffKeys(cur.Fields, next.Fields); len(changedKeys) > 0 {
			record(domain.EventFieldsChanged, "", "", events.EventPayload{"fields": changedKeys})
		}
	}

	var warnings []string
	if opts.Status != "" && opts.Status != cur.Status {
		if _, ok := tpl.State(opts.Status); !ok {
			return UpdateResult{}, false, domain.Validation("%q is not a state of type %s", opts.Status, cur.Type)
		}
		gate := e.Registry.ValidateTransition(cur.Type, cur.Status, opts.Status, next.Fields)
		if opts.Override {
			gate = e.Registry.CheckGate(cur.Type, cur.Status, opts.Status, next.Fields)
		}
		if !gate.Allowed {
			return UpdateResult{}, false, transitionError(cur.Status, opts.Status, gate)
		}
		if err := e.warnTransition(ctx, tx, cur, opts.Actor, cur.Status, opts.Status, gate); err != nil {
			return UpdateResult{}, false, err
		}
		warnings = gate.Warnings
		e.setStatus(&next, opts.Status, now)
		record(domain.EventStatusChanged, cur.Status, next.Status, events.EventPayload{"override": opts.Override})
	}

	if len(recs) == 0 {
		return UpdateResult{Issue: cur}, false, nil
	}
	next.UpdatedAt = now
	if err := e.Repo.UpdateIssue(ctx, tx, next); err != nil {
		return UpdateResult{}, false, err
	}
	for _, rec := range recs {
		if err := e.audit(ctx, tx, rec); err != nil {
			return UpdateResult{}, false, err
		}
	}
	return UpdateResult{Issue: next, Warnings: warnings}, true, nil
}

// checkParent rejects a parent that is missing, the issue itself, or one of
// its descendants.
func (e Engine) checkParent(ctx context.Context, q repo.DBTX, childID, parentID string) error {
	if parentID == childID {
		return domain.Validation("issue %s cannot be its own parent", childID)
	}
	seen := map[string]bool{}
	for cur := parentID; cur != "" && !seen[cur]; {
		seen[cur] = true
		p, err := e.Repo.ParentOf(ctx, q, cur)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Validation("parent %s does not exist", cur)
			}
			return err
		}
		if p == childID {
			return domain.Validation("issue hierarchy cycle: %s is a descendant of %s", parentID, childID)
		}
		cur = p
	}
	return nil
}

func (e Engine) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	return e.loadIssue(ctx, e.DB, id)
}

// ListFilter narrows ListIssues. Category filters by status category across
// all types.
type ListFilter struct {
	Type     string
	Status   string
	Category string
	Assignee string
	ParentID string
	Label    string
	Limit    int
}

func (e Engine) ListIssues(ctx context.Context, f ListFilter) ([]domain.Issue, error) {
	rf := repo.IssueFilter{Assignee: f.Assignee, ParentID: f.ParentID, Label: f.Label, Limit: f.Limit}
	if f.Type != "" {
		rf.Types = []string{f.Type}
	}
	if f.Status != "" {
		rf.Statuses = []string{f.Status}
	}
	if f.Category != "" {
		rf.Limit = 0
	}
	items, err := e.Repo.ListIssues(ctx, e.DB, rf)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Issue, 0, len(items))
	for _, it := range items {
		it, err := e.hydrate(ctx, e.DB, it)
		if err != nil {
			return nil, err
		}
		if f.Category != "" && it.StatusCategory != f.Category {
			continue
		}
		out = append(out, it)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func diffKeys(before, after map[string]any) []string {
	var out []string
	for k, v := range after {
		if old, ok := before[k]; !ok || !reflect.DeepEqual(old, v) {
			out = append(out, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func dedupe(ids []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
