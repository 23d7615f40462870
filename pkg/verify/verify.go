// Package verify checks a built image against the properties every layerctl
// build must have.
package verify

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/opencontainers/go-digest"

	"github.com/layerctl/layerctl/pkg/builder"
	"github.com/layerctl/layerctl/pkg/dockerclient"
	"github.com/layerctl/layerctl/pkg/recipe"
)

// Properties checked by Image and CacheReuse.
const (
	PropDefaultCommand  = "default-command"
	PropSingleModule    = "single-module"
	PropManagerOnPath   = "manager-on-path"
	PropManagerHome     = "manager-home"
	PropWorkDir         = "workdir"
	PropDependencyLayer = "dependency-layer"
	PropCacheReuse      = "cache-reuse"
	PropCacheInvalidate = "cache-invalidation"
)

// Finding is the outcome of one check. A skipped finding could not be
// judged and neither passes nor fails.
type Finding struct {
	Property string
	OK       bool
	Skipped  bool
	Detail   string
}

// Report collects findings for one image.
type Report struct {
	Image    string
	Findings []Finding
}

// OK reports whether every finding passed.
func (r *Report) OK() bool {
	for _, f := range r.Findings {
		if !f.OK && !f.Skipped {
			return false
		}
	}
	return true
}

// Failed returns the findings that did not pass.
func (r *Report) Failed() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if !f.OK && !f.Skipped {
			out = append(out, f)
		}
	}
	return out
}

func (r *Report) add(prop string, ok bool, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{Property: prop, OK: ok, Detail: fmt.Sprintf(format, args...)})
}

// Image inspects a built image and checks its configuration against the
// recipe. depsKey is the expected dependency key; empty skips that check.
func Image(ctx context.Context, cli dockerclient.DockerClient, image string, r *recipe.Recipe, depsKey digest.Digest) (*Report, error) {
	info, _, err := cli.ImageInspectWithRaw(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("inspecting image %s: %w", image, err)
	}
	if info.Config == nil {
		return nil, fmt.Errorf("image %s has no config", image)
	}
	return Config(image, info.Config, r, depsKey), nil
}

// Config checks an image configuration against the recipe.
func Config(image string, cfg *container.Config, r *recipe.Recipe, depsKey digest.Digest) *Report {
	rep := &Report{Image: image}
	want := r.Command()
	cmd := []string(cfg.Cmd)

	if len(cfg.Entrypoint) > 0 {
		rep.add(PropDefaultCommand, false, "unexpected entrypoint %q", []string(cfg.Entrypoint))
	} else if slices.Equal(cmd, want) {
		rep.add(PropDefaultCommand, true, "%s", strings.Join(cmd, " "))
	} else {
		rep.add(PropDefaultCommand, false, "got %q, want %q", cmd, want)
	}

	rep.add(PropSingleModule, singleModule(cmd, r.Module, r.AllowArgs), "%d module invocation(s) of %s", countModules(cmd), r.Module)

	env := envMap(cfg.Env)
	bin := r.Manager.BinDir()
	onPath := slices.Contains(strings.Split(env["PATH"], ":"), bin)
	exe := ""
	if len(cmd) > 0 {
		exe = cmd[0]
	}
	switch {
	case !onPath:
		rep.add(PropManagerOnPath, false, "%s not in PATH=%s", bin, env["PATH"])
	case path.IsAbs(exe):
		rep.add(PropManagerOnPath, false, "command starts with absolute path %s", exe)
	default:
		rep.add(PropManagerOnPath, true, "%s resolved from %s", exe, bin)
	}

	if got := env[r.Manager.HomeEnv]; got == r.Manager.Home {
		rep.add(PropManagerHome, true, "%s=%s", r.Manager.HomeEnv, got)
	} else {
		rep.add(PropManagerHome, false, "%s=%q, want %q", r.Manager.HomeEnv, got, r.Manager.Home)
	}

	rep.add(PropWorkDir, cfg.WorkingDir == r.WorkDir, "%s", cfg.WorkingDir)

	if depsKey != "" {
		got := cfg.Labels[builder.LabelDepsDigest]
		if got == depsKey.String() {
			rep.add(PropDependencyLayer, true, "%s", got)
		} else {
			rep.add(PropDependencyLayer, false, "image built from %s, context is %s", orNone(got), depsKey)
		}
	}
	return rep
}

// CacheReuse checks two consecutive builds. Without a manifest or lockfile
// change the dependency layer must come from cache. With one it must not.
// A second build that ran with the cache disabled proves neither and is
// skipped.
func CacheReuse(first, second *builder.BuildResult, manifestChanged bool) Finding {
	if first == nil || second == nil {
		return Finding{Property: PropCacheReuse, Detail: "two builds are required"}
	}
	if second.NoCache {
		prop := PropCacheReuse
		if manifestChanged {
			prop = PropCacheInvalidate
		}
		return Finding{Property: prop, Skipped: true, Detail: "latest build ran with --no-cache"}
	}
	if !manifestChanged {
		ok := second.DependenciesCached && first.DependencyKey == second.DependencyKey
		return Finding{
			Property: PropCacheReuse,
			OK:       ok,
			Detail:   fmt.Sprintf("dependencies cached=%t, key unchanged=%t", second.DependenciesCached, first.DependencyKey == second.DependencyKey),
		}
	}
	ok := !second.DependenciesCached && first.DependencyKey != second.DependencyKey
	return Finding{
		Property: PropCacheInvalidate,
		OK:       ok,
		Detail:   fmt.Sprintf("dependencies cached=%t, key changed=%t", second.DependenciesCached, first.DependencyKey != second.DependencyKey),
	}
}

func countModules(cmd []string) int {
	n := 0
	for i, a := range cmd {
		if a == "-m" && i+1 < len(cmd) {
			n++
		}
	}
	return n
}

// singleModule requires exactly one "-m module" pair, and that nothing
// follows the module unless arguments are allowed.
func singleModule(cmd []string, module string, allowArgs bool) bool {
	if countModules(cmd) != 1 {
		return false
	}
	i := slices.Index(cmd, "-m")
	if cmd[i+1] != module {
		return false
	}
	return allowArgs || i+2 == len(cmd)
}

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
