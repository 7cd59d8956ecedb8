package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filigree/internal/config"
	"filigree/internal/engine"
	"filigree/internal/migrate"
)

func TestOpenWithDefaults(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(context.Background(), Options{Workspace: dir, LogWriter: io.Discard})
	require.NoError(t, err)
	defer a.Close()

	assert.Contains(t, a.Registry.Types(), "task")
	assert.Contains(t, a.Registry.Types(), "milestone")
	assert.Equal(t, migrate.Latest(), a.SchemaVersion)
	assert.Positive(t, a.SchemaVersion)

	it, err := a.Engine.CreateIssue(context.Background(), engine.IssueCreateOptions{Title: "first"})
	require.NoError(t, err)
	assert.Regexp(t, `^fg-[0-9a-f]{8}$`, it.ID)
}

func TestOpenLoadsWorkspaceTemplates(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Project.Prefix = "ops"
	cfg.Workflow.EnabledPacks = []string{"core"}
	require.NoError(t, config.Write(dir, cfg))

	tplDir := filepath.Join(dir, ".filigree", "templates")
	require.NoError(t, os.MkdirAll(tplDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tplDir, "incident.yaml"), []byte(`
type: incident
initial_state: open
states:
  - {name: open, category: open}
  - {name: mitigated, category: wip}
  - {name: resolved, category: done}
transitions:
  - {from: open, to: mitigated, enforcement: soft}
  - {from: mitigated, to: resolved, enforcement: hard, requires_fields: [postmortem]}
fields_schema:
  - {name: postmortem, type: text}
`), 0o644))

	a, err := Open(context.Background(), Options{Workspace: dir, LogWriter: io.Discard})
	require.NoError(t, err)
	defer a.Close()

	assert.Contains(t, a.Registry.Types(), "incident")
	assert.NotContains(t, a.Registry.Types(), "epic")
	it, err := a.Engine.CreateIssue(context.Background(), engine.IssueCreateOptions{Type: "incident", Title: "db down"})
	require.NoError(t, err)
	assert.Equal(t, "open", it.Status)
	assert.Regexp(t, `^ops-`, it.ID)
}

func TestWatchTemplatesDisabledReturnsImmediately(t *testing.T) {
	a, err := Open(context.Background(), Options{Workspace: t.TempDir(), LogWriter: io.Discard})
	require.NoError(t, err)
	defer a.Close()

	done := make(chan error, 1)
	go func() { done <- a.WatchTemplates(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WatchTemplates blocked with watching disabled")
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(context.Background(), Options{Workspace: dir, LogWriter: io.Discard})
	require.NoError(t, err)
	_, err = a.DB.Exec(`UPDATE schema_version SET version=?`, migrate.Latest()+1)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	_, err = Open(context.Background(), Options{Workspace: dir, LogWriter: io.Discard})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than this build supports")
}
