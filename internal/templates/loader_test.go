package templates

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const installedPackTOML = `
pack = "ops"
version = "2.0"

[types.task]
display_name = "Ops Task"
initial_state = "queued"

[[types.task.states]]
name = "queued"
category = "open"

[[types.task.states]]
name = "running"
category = "wip"

[[types.task.states]]
name = "finished"
category = "done"

[[types.task.transitions]]
from = "queued"
to = "running"
enforcement = "soft"

[[types.task.transitions]]
from = "running"
to = "finished"
enforcement = "hard"
requires_fields = ["runbook"]

[[types.task.fields_schema]]
name = "runbook"
type = "text"
`

const bugOverrideJSON = `{
  "type": "bug",
  "initial_state": "new",
  "states": [
    {"name": "new", "category": "open"},
    {"name": "done", "category": "done"}
  ],
  "transitions": [
    {"from": "new", "to": "done", "enforcement": "soft"}
  ]
}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBuiltinPacksLoad(t *testing.T) {
	assert.Equal(t, []string{"core", "planning"}, BuiltinPacks())

	reg := NewRegistry(Loader{EnabledPacks: []string{"core", "planning"}}, nil)
	require.NoError(t, reg.Load())
	assert.Equal(t, []string{"bug", "epic", "feature", "milestone", "task"}, reg.Types())
	assert.Empty(t, reg.Warnings())

	bug, ok := reg.Template("bug")
	require.True(t, ok)
	assert.Equal(t, "core", bug.Pack)
	assert.Equal(t, "triage", bug.InitialState)
	assert.Equal(t, map[string]any{"severity": "major"}, bug.FieldDefaults())

	res := reg.ValidateTransition("bug", "verifying", "closed", nil)
	assert.False(t, res.Allowed)
	assert.Equal(t, []string{"fix_verification"}, res.MissingFields)
}

func TestLoaderWarnsOnMissingRequiredPack(t *testing.T) {
	res, err := Loader{EnabledPacks: []string{"planning"}}.Load()
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "requires pack core")
}

func TestLoaderRejectsUnknownBuiltin(t *testing.T) {
	_, err := Loader{EnabledPacks: []string{"nope"}}.Load()
	require.Error(t, err)
}

func TestLoaderLayerPrecedence(t *testing.T) {
	dir := t.TempDir()
	packs := filepath.Join(dir, "packs")
	overrides := filepath.Join(dir, "templates")
	writeFile(t, filepath.Join(packs, "ops.toml"), installedPackTOML)
	writeFile(t, filepath.Join(overrides, "bug.json"), bugOverrideJSON)
	writeFile(t, filepath.Join(overrides, "README.md"), "ignored")

	loader := Loader{EnabledPacks: []string{"core"}, PacksDir: packs, TemplatesDir: overrides}
	reg := NewRegistry(loader, nil)
	require.NoError(t, reg.Load())

	task, ok := reg.Template("task")
	require.True(t, ok)
	assert.Equal(t, "ops", task.Pack)
	assert.Equal(t, "queued", task.InitialState)

	bug, ok := reg.Template("bug")
	require.True(t, ok)
	assert.Equal(t, "new", bug.InitialState)

	feature, ok := reg.Template("feature")
	require.True(t, ok)
	assert.Equal(t, "core", feature.Pack)

	res := reg.ValidateTransition("task", "running", "finished", map[string]any{"runbook": "rb-1"})
	assert.True(t, res.Allowed)

	packNames := []string{}
	for _, p := range reg.Packs() {
		packNames = append(packNames, p.Pack)
	}
	assert.Equal(t, []string{"core", "ops"}, packNames)
}

func TestLoaderSurfacesInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.yaml"), "type: bug\nstates: nope\n")
	reg := NewRegistry(Loader{TemplatesDir: dir}, nil)
	err := reg.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(Loader{EnabledPacks: []string{"core"}, TemplatesDir: dir}, nil)
	require.NoError(t, reg.Load())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Watch(ctx, dir) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// give the watcher a moment to register the directory
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "bug.json"), bugOverrideJSON)

	require.Eventually(t, func() bool {
		bug, ok := reg.Template("bug")
		return ok && bug.InitialState == "new"
	}, 5*time.Second, 50*time.Millisecond)
}
