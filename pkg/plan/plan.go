// Package plan turns a recipe into the ordered, cache-aware list of image
// build steps and renders it as a Dockerfile.
//
// The order is fixed: the dependency manager is installed first, then only
// the manifest and lockfile are copied and dependencies installed, and only
// then is the rest of the application tree copied. Source edits therefore
// never invalidate the dependency installation layer.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/layerctl/layerctl/pkg/recipe"
)

// Kind is a Dockerfile instruction.
type Kind string

const (
	KindFrom    Kind = "FROM"
	KindEnv     Kind = "ENV"
	KindRun     Kind = "RUN"
	KindWorkdir Kind = "WORKDIR"
	KindCopy    Kind = "COPY"
	KindCmd     Kind = "CMD"
)

// Role marks the steps whose position matters for caching.
type Role string

const (
	RoleBase         Role = "base"
	RoleEnv          Role = "env"
	RoleSystem       Role = "system-packages"
	RoleManager      Role = "manager"
	RoleWorkdir      Role = "workdir"
	RoleManifest     Role = "manifest"
	RoleDependencies Role = "dependencies"
	RoleSource       Role = "source"
	RoleCommand      Role = "command"
)

// InstallerPath is where the manager installer is downloaded inside the image.
const InstallerPath = "/tmp/layerctl-installer"

// Step is a single build instruction.
type Step struct {
	Kind Kind
	Role Role
	// Line is the instruction body as rendered after the keyword.
	Line string
}

// String renders the step as a Dockerfile line.
func (s Step) String() string {
	return string(s.Kind) + " " + s.Line
}

// Plan is the ordered step list for one recipe.
type Plan struct {
	Recipe string
	Steps  []Step
}

// New builds the plan for a validated recipe.
func New(r *recipe.Recipe) (*Plan, error) {
	if r == nil {
		return nil, fmt.Errorf("recipe is required")
	}
	if r.Module == "" || r.Manifest == "" || len(r.Manager.Install) == 0 {
		return nil, fmt.Errorf("recipe %q is incomplete (defaults not applied?)", r.Name)
	}

	p := &Plan{Recipe: r.Name}
	m := r.Manager

	from := r.Base
	if r.Platform != "" {
		from = "--platform=" + r.Platform + " " + r.Base
	}
	p.add(KindFrom, RoleBase, from)

	managerEnv := map[string]string{
		m.HomeEnv: m.Home,
		"PATH":    m.BinDir() + ":$PATH",
	}
	if m.VersionEnv != "" {
		managerEnv[m.VersionEnv] = m.Version
	}
	for k, v := range m.Env {
		managerEnv[k] = v
	}
	p.add(KindEnv, RoleEnv, envLine(managerEnv))

	if len(r.SystemPackages) > 0 {
		pkgs := append([]string(nil), r.SystemPackages...)
		sort.Strings(pkgs)
		p.add(KindRun, RoleSystem, "apt-get update && apt-get install -y --no-install-recommends "+
			strings.Join(pkgs, " ")+" && rm -rf /var/lib/apt/lists/*")
	}

	p.add(KindRun, RoleManager, managerInstall(m))

	p.add(KindWorkdir, RoleWorkdir, r.WorkDir)

	if len(r.Env) > 0 {
		p.add(KindEnv, RoleEnv, envLine(r.Env))
	}

	copySrc := []string{r.Manifest}
	if lock := r.LockfilePattern(); lock != "" {
		copySrc = append(copySrc, lock)
	}
	p.add(KindCopy, RoleManifest, strings.Join(copySrc, " ")+" ./")
	p.add(KindRun, RoleDependencies, execForm(m.Install))
	p.add(KindCopy, RoleSource, ". .")
	p.add(KindCmd, RoleCommand, execForm(r.Command()))

	if err := p.Check(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plan) add(kind Kind, role Role, line string) {
	p.Steps = append(p.Steps, Step{Kind: kind, Role: role, Line: line})
}

// Index returns the 1-based position of the first step with the given role,
// matching the "Step N/M" numbering of the classic builder. Zero means absent.
func (p *Plan) Index(role Role) int {
	for i, s := range p.Steps {
		if s.Role == role {
			return i + 1
		}
	}
	return 0
}

// DependencyIndex returns the position of the dependency installation step.
func (p *Plan) DependencyIndex() int { return p.Index(RoleDependencies) }

// SourceIndex returns the position of the application source copy.
func (p *Plan) SourceIndex() int { return p.Index(RoleSource) }

// Check enforces the cache-locality ordering.
func (p *Plan) Check() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	if p.Steps[0].Kind != KindFrom {
		return fmt.Errorf("first step must be FROM, got %s", p.Steps[0].Kind)
	}

	counts := make(map[Role]int)
	cmds := 0
	for _, s := range p.Steps {
		counts[s.Role]++
		if s.Kind == KindCmd {
			cmds++
		}
	}
	for _, role := range []Role{RoleManager, RoleManifest, RoleDependencies, RoleSource, RoleCommand} {
		if counts[role] != 1 {
			return fmt.Errorf("plan must contain exactly one %s step, found %d", role, counts[role])
		}
	}
	if cmds != 1 || p.Steps[len(p.Steps)-1].Kind != KindCmd {
		return fmt.Errorf("plan must end with a single CMD")
	}

	manager := p.Index(RoleManager)
	manifest := p.Index(RoleManifest)
	deps := p.Index(RoleDependencies)
	source := p.Index(RoleSource)

	if manager > deps {
		return fmt.Errorf("dependency manager must be installed before dependencies (step %d > %d)", manager, deps)
	}
	if manifest > deps {
		return fmt.Errorf("manifest must be copied before installing dependencies (step %d > %d)", manifest, deps)
	}
	if deps > source {
		return fmt.Errorf("dependencies must be installed before copying the source tree (step %d > %d)", deps, source)
	}
	return nil
}

// managerInstall renders the manager installation command. The script
// installer is fetched to a file first so a failed download fails the step
// instead of feeding an empty script to the interpreter.
func managerInstall(m recipe.Manager) string {
	if m.Installer == recipe.InstallerPip {
		return fmt.Sprintf(
			"python3 -m pip install --no-cache-dir --disable-pip-version-check --root-user-action=ignore --prefix %s %s==%s && %s --version",
			m.Home, m.Package, m.Version, m.Executable())
	}
	return fmt.Sprintf(
		`python3 -c "import sys, urllib.request; urllib.request.urlretrieve(sys.argv[1], sys.argv[2])" '%s' %s && %s %s && rm -f %s && %s --version`,
		m.InstallerURL, InstallerPath, m.InstallerShell, InstallerPath, InstallerPath, m.Executable())
}

// envLine renders key="value" pairs in sorted key order.
func envLine(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, quote(env[k])))
	}
	return strings.Join(parts, " ")
}

// execForm renders a JSON-array command.
func execForm(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quote(a)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
