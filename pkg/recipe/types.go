// Package recipe defines the build recipe consumed by layerctl.
package recipe

import (
	"path"
	"strings"
)

// DefaultFile is the recipe file name looked up when none is given.
const DefaultFile = "layerctl.yaml"

// Recipe describes how to turn an application tree into a runnable image.
// All fields are consumed once at build time and baked into the image.
type Recipe struct {
	Name           string            `yaml:"name" json:"name"`
	Base           string            `yaml:"base" json:"base"`                             // Base image reference
	Platform       string            `yaml:"platform,omitempty" json:"platform,omitempty"` // os/arch[/variant]
	Manager        Manager           `yaml:"manager" json:"manager"`                       // Dependency manager
	WorkDir        string            `yaml:"workdir" json:"workdir"`                       // Working directory inside the image
	Manifest       string            `yaml:"manifest,omitempty" json:"manifest,omitempty"` // Dependency manifest (e.g. pyproject.toml)
	Lockfile       string            `yaml:"lockfile,omitempty" json:"lockfile,omitempty"` // Optional lockfile, copied with a wildcard
	Module         string            `yaml:"module" json:"module"`                         // Application module started by the default command
	Args           []string          `yaml:"args,omitempty" json:"args,omitempty"`         // Extra module arguments (requires AllowArgs)
	AllowArgs      bool              `yaml:"allow_args,omitempty" json:"allow_args,omitempty"`
	SystemPackages []string          `yaml:"system_packages,omitempty" json:"system_packages,omitempty"` // OS packages installed before the manager
	Env            map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Labels         map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	BuildArgs      map[string]string `yaml:"build_args,omitempty" json:"build_args,omitempty"`
	Tag            string            `yaml:"tag,omitempty" json:"tag,omitempty"`
	Source         Source            `yaml:"source,omitempty" json:"source,omitempty"`
}

// Manager describes the dependency manager installed into the image.
type Manager struct {
	Preset         string            `yaml:"preset,omitempty" json:"preset,omitempty"` // "poetry" (default) or "uv"
	Version        string            `yaml:"version,omitempty" json:"version,omitempty"`
	Home           string            `yaml:"home,omitempty" json:"home,omitempty"`               // Fixed install location
	HomeEnv        string            `yaml:"home_env,omitempty" json:"home_env,omitempty"`       // e.g. POETRY_HOME
	VersionEnv     string            `yaml:"version_env,omitempty" json:"version_env,omitempty"` // e.g. POETRY_VERSION
	Installer      string            `yaml:"installer,omitempty" json:"installer,omitempty"`     // "script" or "pip"
	InstallerURL   string            `yaml:"installer_url,omitempty" json:"installer_url,omitempty"`
	InstallerShell string            `yaml:"installer_shell,omitempty" json:"installer_shell,omitempty"` // Interpreter that runs the downloaded installer
	Package        string            `yaml:"package,omitempty" json:"package,omitempty"`                 // Distribution name for the pip installer
	Install        []string          `yaml:"install,omitempty" json:"install,omitempty"`                 // Dependency install command
	Run            []string          `yaml:"run,omitempty" json:"run,omitempty"`                         // Prefix that runs the interpreter
	Env            map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Source defines where the build context comes from.
type Source struct {
	Type string `yaml:"type,omitempty" json:"type,omitempty"` // "local" (default) or "git"
	Path string `yaml:"path,omitempty" json:"path,omitempty"` // Local context directory
	URL  string `yaml:"url,omitempty" json:"url,omitempty"`   // Git URL
	Ref  string `yaml:"ref,omitempty" json:"ref,omitempty"`   // Git ref/branch
}

// BinDir returns the directory holding the manager's executables.
func (m Manager) BinDir() string {
	return path.Join(m.Home, "bin")
}

// Executable returns the manager's command name, taken from the run prefix.
func (m Manager) Executable() string {
	if len(m.Run) == 0 {
		return ""
	}
	return m.Run[0]
}

// Command returns the image's default command: the manager's run prefix
// followed by the interpreter invocation of the module.
func (r *Recipe) Command() []string {
	cmd := make([]string, 0, len(r.Manager.Run)+3+len(r.Args))
	cmd = append(cmd, r.Manager.Run...)
	cmd = append(cmd, "python", "-m", r.Module)
	if r.AllowArgs {
		cmd = append(cmd, r.Args...)
	}
	return cmd
}

// LockfilePattern returns the wildcard used to copy the lockfile so that a
// missing lockfile matches zero files instead of failing the build.
func (r *Recipe) LockfilePattern() string {
	if r.Lockfile == "" {
		return ""
	}
	if strings.HasSuffix(r.Lockfile, "*") {
		return r.Lockfile
	}
	return r.Lockfile + "*"
}

// ImageTag returns the configured tag or a deterministic default.
func (r *Recipe) ImageTag() string {
	if r.Tag != "" {
		return r.Tag
	}
	return GenerateTag(r.Name)
}

// GenerateTag creates a deterministic image tag for a recipe.
func GenerateTag(name string) string {
	return "layerctl-" + name + ":latest"
}
