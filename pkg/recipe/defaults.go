package recipe

import "strings"

// Default values applied by SetDefaults.
const (
	DefaultBase    = "python:3.12-slim"
	DefaultWorkDir = "/app"
	DefaultPreset  = PresetPoetry
)

// Known dependency manager presets.
const (
	PresetPoetry = "poetry"
	PresetUV     = "uv"
)

// Ways of installing the manager. Both run on the base image's python3 and
// need neither curl nor wget.
const (
	InstallerScript = "script"
	InstallerPip    = "pip"
)

// preset holds the manager defaults plus the manifest files it reads.
type preset struct {
	manager  Manager
	manifest string
	lockfile string
}

var presets = map[string]preset{
	PresetPoetry: {
		manager: Manager{
			Version:        "1.8.3",
			Installer:      InstallerScript,
			Home:           "/opt/poetry",
			HomeEnv:        "POETRY_HOME",
			VersionEnv:     "POETRY_VERSION",
			InstallerURL:   "https://install.python-poetry.org",
			InstallerShell: "python3",
			Install:        []string{"poetry", "install", "--no-root", "--no-interaction", "--no-ansi"},
			Run:            []string{"poetry", "run"},
			Env:            map[string]string{"POETRY_VIRTUALENVS_CREATE": "false"},
		},
		manifest: "pyproject.toml",
		lockfile: "poetry.lock",
	},
	PresetUV: {
		manager: Manager{
			Version:   "0.5.11",
			Installer: InstallerPip,
			Package:   "uv",
			Home:      "/opt/uv",
			HomeEnv:   "UV_HOME",
			Install:   []string{"uv", "sync", "--no-install-project", "--no-dev"},
			Run:       []string{"uv", "run"},
			Env:       map[string]string{"UV_LINK_MODE": "copy"},
		},
		manifest: "pyproject.toml",
		lockfile: "uv.lock",
	},
}

// Presets returns the names of the known manager presets.
func Presets() []string {
	return []string{PresetPoetry, PresetUV}
}

// SetDefaults applies default values to the recipe.
func (r *Recipe) SetDefaults() {
	if r.Base == "" {
		r.Base = DefaultBase
	}
	if r.WorkDir == "" {
		r.WorkDir = DefaultWorkDir
	}
	if r.Manager.Preset == "" {
		r.Manager.Preset = DefaultPreset
	}
	if r.Source.Type == "" {
		r.Source.Type = "local"
	}
	if r.Source.Type == "git" && r.Source.Ref == "" {
		r.Source.Ref = "main"
	}

	p, ok := presets[r.Manager.Preset]
	if !ok {
		// Unknown presets are reported by Validate.
		return
	}
	if r.Manifest == "" {
		r.Manifest = p.manifest
	}
	if r.Lockfile == "" {
		r.Lockfile = p.lockfile
	}

	m := &r.Manager
	if m.Version == "" {
		m.Version = p.manager.Version
	}
	if m.Home == "" {
		m.Home = p.manager.Home
	}
	if m.HomeEnv == "" {
		m.HomeEnv = p.manager.HomeEnv
	}
	if m.VersionEnv == "" {
		m.VersionEnv = p.manager.VersionEnv
	}
	if m.Installer == "" {
		m.Installer = p.manager.Installer
	}
	if m.InstallerURL == "" {
		m.InstallerURL = p.manager.InstallerURL
	}
	if m.InstallerShell == "" {
		m.InstallerShell = p.manager.InstallerShell
	}
	if m.Package == "" {
		m.Package = p.manager.Package
	}
	if len(m.Install) == 0 {
		m.Install = append([]string(nil), p.manager.Install...)
	}
	if len(m.Run) == 0 {
		m.Run = append([]string(nil), p.manager.Run...)
	}
	if m.Env == nil {
		m.Env = make(map[string]string)
	}
	for k, v := range p.manager.Env {
		if _, set := m.Env[k]; !set {
			m.Env[k] = v
		}
	}
	m.InstallerURL = strings.ReplaceAll(m.InstallerURL, "{version}", m.Version)
}
