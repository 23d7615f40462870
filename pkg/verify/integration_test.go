//go:build integration

package verify

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layerctl/layerctl/pkg/builder"
	"github.com/layerctl/layerctl/pkg/dockerclient"
	"github.com/layerctl/layerctl/pkg/recipe"
	"github.com/layerctl/layerctl/pkg/runtime"
)

// copyExample copies examples/paycorbot into a temp dir so the test can edit it.
func copyExample(t *testing.T) string {
	t.Helper()
	src := filepath.Join("..", "..", "examples", "paycorbot")
	dst := t.TempDir()
	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(src, path)
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0644)
	})
	require.NoError(t, err)
	return dst
}

func appendFile(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(s)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

// TestBuildProperties builds the example three times against a real daemon.
// This test requires a running Docker daemon and network access.
func TestBuildProperties(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cli, err := dockerclient.New()
	if err != nil {
		t.Skipf("Docker not available: %v", err)
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := dockerclient.Ping(ctx, cli); err != nil {
		t.Skipf("Docker not available: %v", err)
	}

	dir := copyExample(t)
	r, err := recipe.Load(filepath.Join(dir, "layerctl.yaml"))
	require.NoError(t, err)
	r.Tag = "layerctl-integration:latest"

	b := builder.New(cli)

	// No lockfile in the example: the wildcard copy must tolerate it.
	first, err := b.Build(ctx, builder.BuildOptions{Recipe: r})
	require.NoError(t, err)

	appendFile(t, filepath.Join(dir, "paycorbot", "__main__.py"), "\n# edited\n")
	second, err := b.Build(ctx, builder.BuildOptions{Recipe: r})
	require.NoError(t, err)
	assert.True(t, CacheReuse(first, second, false).OK, "source edit must reuse the dependency layer")

	appendFile(t, filepath.Join(dir, "pyproject.toml"), "\n# pinned\n")
	third, err := b.Build(ctx, builder.BuildOptions{Recipe: r})
	require.NoError(t, err)
	assert.True(t, CacheReuse(second, third, true).OK, "manifest edit must invalidate the dependency layer")

	rep, err := Image(ctx, cli, r.Tag, r, third.DependencyKey)
	require.NoError(t, err)
	assert.True(t, rep.OK(), "%+v", rep.Failed())

	var stdout bytes.Buffer
	res, err := runtime.Run(ctx, cli, runtime.RunOptions{
		Image:  r.Tag,
		Env:    map[string]string{"PAYCOR_USERNAME": "integration"},
		Stdout: &stdout,
		Stderr: io.Discard,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.ExitCode)
	assert.Contains(t, stdout.String(), "paycorbot started as integration")
}
