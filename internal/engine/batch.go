package engine

import (
	"context"

	"filigree/internal/domain"
)

// BatchResult is the per-id outcome of a batch call. Items fail
// independently; one rejection does not roll back the others.
type BatchResult struct {
	ID       string           `json:"id"`
	Issue    *domain.Issue    `json:"issue,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
	Err      error            `json:"-"`
	Error    string           `json:"error,omitempty"`
	Kind     domain.ErrorKind `json:"kind,omitempty"`
}

func batchResult(id string, res UpdateResult, err error) BatchResult {
	if err != nil {
		return BatchResult{ID: id, Err: err, Error: err.Error(), Kind: domain.KindOf(err)}
	}
	it := res.Issue
	return BatchResult{ID: id, Issue: &it, Warnings: res.Warnings}
}

// BatchClose closes each id with the same options, in order.
func (e Engine) BatchClose(ctx context.Context, ids []string, opts CloseOptions) []BatchResult {
	out := make([]BatchResult, 0, len(ids))
	for _, id := range dedupe(ids) {
		res, err := e.CloseIssue(ctx, id, opts)
		out = append(out, batchResult(id, res, err))
	}
	return out
}

// BatchUpdate applies the same update to each id. The ID in opts is ignored.
func (e Engine) BatchUpdate(ctx context.Context, ids []string, opts IssueUpdateOptions) []BatchResult {
	out := make([]BatchResult, 0, len(ids))
	for _, id := range dedupe(ids) {
		o := opts
		o.ID = id
		res, err := e.UpdateIssue(ctx, o)
		out = append(out, batchResult(id, res, err))
	}
	return out
}

// Failed counts the results that carry an error.
func Failed(results []BatchResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
