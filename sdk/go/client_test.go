package filigreesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filigree/internal/config"
	"filigree/internal/db"
	"filigree/internal/engine"
	"filigree/internal/logging"
	"filigree/internal/migrate"
	"filigree/internal/server"
	"filigree/internal/templates"
	filigreesdk "filigree/sdk/go"
)

func newClient(t *testing.T, actor string) *filigreesdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	reg := templates.NewRegistry(templates.Loader{EnabledPacks: []string{"core"}}, nil)
	require.NoError(t, reg.Load())
	handler, err := server.New(server.Config{
		Engine:   engine.New(conn, reg, config.Default(), nil),
		BasePath: "/v1",
		Auth:     server.AuthConfig{AllowActorHeader: true},
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(func() {
		ts.Close()
		conn.Close()
	})
	c := filigreesdk.New(ts.URL + "/v1")
	c.ActorID = actor
	return c
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "ann")

	bug, err := c.CreateIssue(ctx, filigreesdk.CreateIssue{ID: "bug-1", Type: "bug", Title: "Crash"})
	require.NoError(t, err)
	assert.Equal(t, "triage", bug.Status)

	for _, status := range []string{"confirmed", "fixing", "verifying"} {
		_, err := c.UpdateIssue(ctx, bug.ID, filigreesdk.UpdateIssue{Status: status})
		require.NoError(t, err)
	}
	_, err = c.CloseIssue(ctx, bug.ID, "", nil)
	var apiErr *filigreesdk.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "hard_gate", apiErr.Code)
	assert.Equal(t, []string{"fix_verification"}, apiErr.MissingFields())

	res, err := c.CloseIssue(ctx, bug.ID, "fixed", map[string]any{"fix_verification": "ci green"})
	require.NoError(t, err)
	assert.Equal(t, "closed", res.Issue.Status)

	evs, err := c.Events(ctx, bug.ID, 1)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "closed", evs[0].Type)
	assert.Equal(t, "ann", evs[0].Actor)
}

func TestClientClaimAndGraph(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "ann")

	_, err := c.CreateIssue(ctx, filigreesdk.CreateIssue{ID: "B", Title: "base"})
	require.NoError(t, err)
	_, err = c.CreateIssue(ctx, filigreesdk.CreateIssue{ID: "A", Title: "top"})
	require.NoError(t, err)
	added, err := c.AddDependency(ctx, "A", "B")
	require.NoError(t, err)
	assert.True(t, added)

	path, err := c.CriticalPath(ctx)
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, "B", path[0].ID)

	next, err := c.ClaimNext(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "B", next.ID)
	assert.Equal(t, "ann", next.Assignee)

	next, err = c.ClaimNext(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = c.Claim(ctx, "B", "bob")
	var apiErr *filigreesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	_, err = c.Release(ctx, "B")
	require.NoError(t, err)
	removed, err := c.RemoveDependency(ctx, "A", "B")
	require.NoError(t, err)
	assert.True(t, removed)
	ready, err := c.Ready(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, ready, 2)
}
