package engine

import (
	"context"
	"strings"

	"filigree/internal/domain"
	"filigree/internal/events"
)

// ClaimIssue assigns an open issue to assignee with a single conditional
// write. Of two concurrent claimants exactly one wins; the other gets a
// conflict. Claiming an issue you already hold succeeds.
func (e Engine) ClaimIssue(ctx context.Context, id, assignee, actor string) (domain.Issue, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return domain.Issue{}, domain.Validation("assignee is required")
	}
	if actor == "" {
		actor = assignee
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	cur, err := e.loadIssue(ctx, tx, id)
	if err != nil {
		return domain.Issue{}, err
	}
	if _, err := e.template(cur.Type); err != nil {
		return domain.Issue{}, err
	}
	now := e.timestamp()
	ok, err := e.Repo.ClaimIssue(ctx, tx, id, assignee, e.Registry.States(cur.Type, domain.CategoryOpen), now)
	if err != nil {
		return domain.Issue{}, err
	}
	if !ok {
		// Re-read to report why the guarded write did not apply.
		latest, err := e.loadIssue(ctx, tx, id)
		if err != nil {
			return domain.Issue{}, err
		}
		if latest.StatusCategory != domain.CategoryOpen {
			return domain.Issue{}, domain.Conflict(domain.ReasonNotClaimable, "issue %s is %s, only open issues can be claimed", id, latest.Status)
		}
		return domain.Issue{}, domain.Conflict(domain.ReasonAlreadyClaimed, "issue %s already claimed by %s", id, latest.Assignee)
	}
	if cur.Assignee != assignee {
		if err := e.audit(ctx, tx, events.Record{Type: domain.EventClaimed, IssueID: id, Actor: actor, OldValue: cur.Assignee, NewValue: assignee}); err != nil {
			return domain.Issue{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	cur.Assignee = assignee
	cur.UpdatedAt = now
	return cur, nil
}

// ReleaseIssue clears the assignee. A non-empty actor must be the holder.
func (e Engine) ReleaseIssue(ctx context.Context, id, actor string) (domain.Issue, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	cur, err := e.loadIssue(ctx, tx, id)
	if err != nil {
		return domain.Issue{}, err
	}
	if cur.Assignee == "" {
		return domain.Issue{}, domain.Conflict(domain.ReasonNotHolder, "issue %s is not claimed", id)
	}
	if actor != "" && actor != cur.Assignee {
		return domain.Issue{}, domain.Conflict(domain.ReasonNotHolder, "issue %s is held by %s", id, cur.Assignee)
	}
	now := e.timestamp()
	ok, err := e.Repo.ReleaseIssue(ctx, tx, id, actor, now)
	if err != nil {
		return domain.Issue{}, err
	}
	if !ok {
		return domain.Issue{}, domain.Conflict(domain.ReasonNotHolder, "issue %s changed hands during release", id)
	}
	if err := e.audit(ctx, tx, events.Record{Type: domain.EventReleased, IssueID: id, Actor: actor, OldValue: cur.Assignee}); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	cur.Assignee = ""
	cur.UpdatedAt = now
	return cur, nil
}

// ClaimNext claims the first ready issue in work order. Losing a race on one
// candidate moves on to the next; nil means nothing was claimable.
func (e Engine) ClaimNext(ctx context.Context, assignee string, f ReadyFilter) (*domain.Issue, error) {
	if strings.TrimSpace(assignee) == "" {
		return nil, domain.Validation("assignee is required")
	}
	f.Unassigned = true
	f.Limit = 0
	candidates, err := e.Ready(ctx, f)
	if err != nil {
		return nil, err
	}
	contended := 0
	for _, c := range candidates {
		it, err := e.ClaimIssue(ctx, c.ID, assignee, assignee)
		if err == nil {
			e.Logger.Info("claimed next ready issue", "id", it.ID, "assignee", assignee, "skipped", contended)
			return &it, nil
		}
		if domain.KindOf(err) != domain.KindConflict {
			return nil, err
		}
		contended++
		e.Logger.Debug("claim lost, trying next candidate", "id", c.ID, "err", err)
	}
	if contended > 0 {
		e.Logger.Warn("every ready candidate was claimed by someone else", "assignee", assignee, "candidates", contended)
	}
	return nil, nil
}
