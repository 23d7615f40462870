package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layerctl/layerctl/pkg/builder"
	"github.com/layerctl/layerctl/pkg/plan"
	"github.com/layerctl/layerctl/pkg/state"
	"github.com/layerctl/layerctl/pkg/verify"
)

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "layerctl.yaml"), []byte("name: paycorbot\nmodule: paycorbot\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte("[tool.poetry]\nname = \"paycorbot\"\n"), 0644))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRenderCommand(t *testing.T) {
	dir := writeProject(t)

	out, err := execute(t, "render", filepath.Join(dir, "layerctl.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "FROM python:3.12-slim\n")
	assert.Contains(t, out, "COPY pyproject.toml poetry.lock* ./\n")
	assert.Contains(t, out, `CMD ["poetry", "run", "python", "-m", "paycorbot"]`)
}

func TestRenderCommand_MissingRecipe(t *testing.T) {
	_, err := execute(t, "render", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to load recipe")
}

func TestPlanCommand_NoHistory(t *testing.T) {
	dir := writeProject(t)
	t.Setenv(state.HomeEnv, t.TempDir())

	out, err := execute(t, "plan", filepath.Join(dir, "layerctl.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "dependencies")
	assert.Contains(t, out, "unknown")
	assert.Contains(t, out, "No previous build recorded")
}

func TestHistoryCommand_JSON(t *testing.T) {
	dir := writeProject(t)
	t.Setenv(state.HomeEnv, t.TempDir())
	require.NoError(t, state.Append("paycorbot", state.Build{ID: "b1", DepsDigest: digest.FromString("d")}, 0))

	out, err := execute(t, "history", "--json", filepath.Join(dir, "layerctl.yaml"))
	historyJSON = false
	require.NoError(t, err)
	assert.Contains(t, out, `"recipe": "paycorbot"`)
	assert.Contains(t, out, `"id": "b1"`)
}

func TestStepSummaries(t *testing.T) {
	res := &builder.BuildResult{Steps: []builder.StepResult{
		{Index: 1, Role: plan.RoleBase},
		{Index: 6, Role: plan.RoleDependencies, Cached: true},
		{Index: 7, Role: plan.RoleSource},
	}}
	got := stepSummaries(res)
	require.Len(t, got, 3)
	assert.Equal(t, "base", got[0].Status)
	assert.Equal(t, "cached", got[1].Status)
	assert.Equal(t, "built", got[2].Status)
}

func TestBuildSummaries_NewestFirst(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	builds := []state.Build{
		{ID: "aaaaaaaa-1", StartedAt: now.Add(-3 * time.Hour), Duration: time.Minute},
		{ID: "bbbbbbbb-2", ImageID: "sha256:0123456789abcdef0123", StartedAt: now.Add(-10 * time.Second), DependenciesCached: true},
	}
	got := buildSummaries(builds, now)
	require.Len(t, got, 2)
	assert.Equal(t, "bbbbbbbb", got[0].ID)
	assert.Equal(t, "0123456789ab", got[0].Image)
	assert.Equal(t, "cached", got[0].Dependencies)
	assert.Equal(t, "just now", got[0].Finished)
	assert.Equal(t, "2h ago", got[1].Finished)
	assert.Equal(t, "installed", got[1].Dependencies)
}

func TestAgo(t *testing.T) {
	assert.Equal(t, "5m ago", ago(5*time.Minute+10*time.Second))
	assert.Equal(t, "3d ago", ago(72*time.Hour))
}

func TestHistoryFinding(t *testing.T) {
	deps := digest.FromString("deps")
	t.Setenv(state.HomeEnv, t.TempDir())

	_, ok := historyFinding(&state.History{Builds: []state.Build{{ID: "only"}}})
	assert.False(t, ok)

	require.NoError(t, state.Append("paycorbot", state.Build{ID: "b1", DepsDigest: deps}, 0))
	require.NoError(t, state.Append("paycorbot", state.Build{ID: "b2", DepsDigest: deps, DependenciesCached: true}, 0))
	h, err := state.Load("paycorbot")
	require.NoError(t, err)
	f, ok := historyFinding(h)
	require.True(t, ok)
	assert.True(t, f.OK, f.Detail)

	// A forced rebuild reinstalls dependencies without anything being wrong.
	require.NoError(t, state.Append("paycorbot", state.Build{ID: "b3", DepsDigest: deps, NoCache: true}, 0))
	h, err = state.Load("paycorbot")
	require.NoError(t, err)
	f, ok = historyFinding(h)
	require.True(t, ok)
	assert.True(t, f.Skipped)
	assert.Equal(t, "skip", findingSummaries([]verify.Finding{f})[0].Status)
	assert.Equal(t, "no-cache", buildSummaries(h.Builds, time.Now())[0].Dependencies)
}

func TestHistoryCommand_AllAndClear(t *testing.T) {
	dir := writeProject(t)
	t.Setenv(state.HomeEnv, t.TempDir())
	t.Cleanup(func() { historyAll, historyClear = false, false })

	require.NoError(t, state.Append("paycorbot", state.Build{ID: "b1", ImageID: "sha256:aaaaaaaaaaaaaaaa", DependenciesCached: true}, 0))
	require.NoError(t, state.Append("worker", state.Build{ID: "w1", ImageID: "sha256:bbbbbbbbbbbbbbbb"}, 0))

	out, err := execute(t, "history", "--all")
	historyAll = false
	require.NoError(t, err)
	assert.Contains(t, out, "RECIPES")
	assert.Contains(t, out, "paycorbot")
	assert.Contains(t, out, "worker")

	_, err = execute(t, "history", "--clear", filepath.Join(dir, "layerctl.yaml"))
	historyClear = false
	require.NoError(t, err)

	names, err := state.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"worker"}, names)
}

func TestRecipeLogger_DefaultsToRecipeLogFile(t *testing.T) {
	t.Setenv(state.HomeEnv, t.TempDir())

	logger, path := recipeLogger("builder", "paycorbot")
	assert.Equal(t, state.LogPath("paycorbot"), path)

	logger.Info("built image", "tag", "layerctl-paycorbot:latest")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "built image")
	assert.Contains(t, string(data), "builder")
}
