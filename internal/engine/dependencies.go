package engine

import (
	"context"
	"database/sql"
	"errors"

	"filigree/internal/db"
	"filigree/internal/domain"
	"filigree/internal/events"
	"filigree/internal/graph"
	"filigree/internal/repo"
)

// AddDependency records that from is blocked by to. The edge set is read
// inside the write transaction so a concurrent insert cannot slip a cycle
// past the check. Adding an existing edge reports false and writes nothing.
func (e Engine) AddDependency(ctx context.Context, from, to, actor string) (bool, error) {
	if from == to {
		return false, domain.Validation("issue %s cannot depend on itself", from)
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	missing, err := e.Repo.MissingIssues(ctx, tx, []string{from, to})
	if err != nil {
		return false, err
	}
	if len(missing) > 0 {
		return false, domain.NotFound("issue %s not found", missing[0])
	}
	g, err := e.loadGraph(ctx, tx)
	if err != nil {
		return false, err
	}
	fresh, err := g.Add(from, to)
	if err != nil {
		e.Logger.Debug("dependency rejected", "from", from, "to", to, "err", err)
		return false, err
	}
	if !fresh {
		return false, nil
	}
	added, err := e.Repo.AddDependency(ctx, tx, domain.Dependency{IssueID: from, DependsOnID: to, Type: domain.DependencyBlocks, CreatedAt: e.timestamp()})
	if err != nil || !added {
		return false, err
	}
	if err := e.audit(ctx, tx, events.Record{Type: domain.EventDependencyAdded, IssueID: from, Actor: actor, NewValue: to}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveDependency deletes the edge if present.
func (e Engine) RemoveDependency(ctx context.Context, from, to, actor string) (bool, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	removed, err := e.Repo.RemoveDependency(ctx, tx, from, to)
	if err != nil || !removed {
		return false, err
	}
	if err := e.audit(ctx, tx, events.Record{Type: domain.EventDependencyRemoved, IssueID: from, Actor: actor, OldValue: to}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (e Engine) loadGraph(ctx context.Context, q repo.DBTX) (*graph.Graph, error) {
	edges, err := e.Repo.ListDependencies(ctx, q)
	if err != nil {
		return nil, err
	}
	return graph.New(edges), nil
}

// readView is one consistent read of the edge set and of every issue's
// classification input. Issues are hydrated through the same transaction.
type readView struct {
	tx     *sql.Tx
	graph  *graph.Graph
	states map[string]repo.IssueState
	nodes  []graph.Node
}

func (e Engine) view(ctx context.Context, fn func(v readView) error) error {
	tx, err := db.BeginRead(ctx, e.DB)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	g, err := e.loadGraph(ctx, tx)
	if err != nil {
		return err
	}
	states, err := e.Repo.ListIssueStates(ctx, tx)
	if err != nil {
		return err
	}
	v := readView{tx: tx, graph: g, states: make(map[string]repo.IssueState, len(states)), nodes: make([]graph.Node, 0, len(states))}
	for _, s := range states {
		cat, _ := e.Registry.Category(s.Type, s.Status)
		v.states[s.ID] = s
		v.nodes = append(v.nodes, graph.Node{ID: s.ID, Category: cat, Priority: s.Priority, CreatedAt: s.CreatedAt})
	}
	return fn(v)
}

// viewIssue hydrates id inside the view. Blockers come from the loaded graph.
func (e Engine) viewIssue(ctx context.Context, v readView, id string) (domain.Issue, error) {
	it, err := e.Repo.GetIssueTx(ctx, v.tx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return it, domain.NotFound("issue %s not found", id)
		}
		return it, err
	}
	it.StatusCategory, _ = e.Registry.Category(it.Type, it.Status)
	if it.Labels, err = e.Repo.ListLabels(ctx, v.tx, id); err != nil {
		return it, err
	}
	it.DependsOn = v.graph.DependsOn(id)
	return it, nil
}

// ReadyFilter narrows Ready and ClaimNext.
type ReadyFilter struct {
	Types      []string
	Assignee   string
	Unassigned bool
	Label      string
	Limit      int
}

// matchState applies the filters answerable from the state scan alone.
func (f ReadyFilter) matchState(s repo.IssueState) bool {
	if len(f.Types) > 0 && !contains(f.Types, s.Type) {
		return false
	}
	if f.Unassigned && s.Assignee != "" {
		return false
	}
	if f.Assignee != "" && s.Assignee != f.Assignee {
		return false
	}
	return true
}

// Ready lists open issues with no unfinished blockers in work order.
func (e Engine) Ready(ctx context.Context, f ReadyFilter) ([]domain.Issue, error) {
	var out []domain.Issue
	err := e.view(ctx, func(v readView) error {
		for _, id := range v.graph.Readiness(v.nodes).Ready {
			if !f.matchState(v.states[id]) {
				continue
			}
			it, err := e.viewIssue(ctx, v, id)
			if err != nil {
				return err
			}
			if f.Label != "" && !contains(it.Labels, f.Label) {
				continue
			}
			out = append(out, it)
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

type BlockedIssue struct {
	Issue     domain.Issue `json:"issue"`
	BlockedBy []string     `json:"blocked_by"`
}

// Blocked lists open issues waiting on at least one unfinished blocker.
func (e Engine) Blocked(ctx context.Context) ([]BlockedIssue, error) {
	var out []BlockedIssue
	err := e.view(ctx, func(v readView) error {
		for _, b := range v.graph.Readiness(v.nodes).Blocked {
			it, err := e.viewIssue(ctx, v, b.ID)
			if err != nil {
				return err
			}
			out = append(out, BlockedIssue{Issue: it, BlockedBy: b.BlockedBy})
		}
		return nil
	})
	return out, err
}

// CriticalPath returns the longest chain of unfinished blocking work.
func (e Engine) CriticalPath(ctx context.Context) ([]domain.Issue, error) {
	out := []domain.Issue{}
	err := e.view(ctx, func(v readView) error {
		for _, id := range v.graph.CriticalPath(v.nodes) {
			it, err := e.viewIssue(ctx, v, id)
			if err != nil {
				return err
			}
			out = append(out, it)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
