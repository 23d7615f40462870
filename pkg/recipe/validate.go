package recipe

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/distribution/reference"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// ValidationError represents a recipe validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors:\n  - " + strings.Join(msgs, "\n  - ")
}

var (
	moduleRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	nameRe   = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)
	envKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	// PEP 508 distribution names.
	packageRe   = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?$`)
	shellNameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

const unsafeURLChars = "'\"`$\\ \t\n\r"

// Validate checks the recipe for errors. SetDefaults should run first.
func Validate(r *Recipe) error {
	var errs ValidationErrors

	if r.Name == "" {
		errs = append(errs, ValidationError{"name", "is required"})
	} else if !nameRe.MatchString(r.Name) {
		errs = append(errs, ValidationError{"name", "must be lowercase alphanumeric (with '.', '_', '-')"})
	}

	if r.Base == "" {
		errs = append(errs, ValidationError{"base", "is required"})
	} else if _, err := reference.ParseNormalizedNamed(r.Base); err != nil {
		errs = append(errs, ValidationError{"base", fmt.Sprintf("invalid image reference: %v", err)})
	}

	if r.Platform != "" {
		if _, err := ParsePlatform(r.Platform); err != nil {
			errs = append(errs, ValidationError{"platform", err.Error()})
		}
	}

	if r.WorkDir == "" {
		errs = append(errs, ValidationError{"workdir", "is required"})
	} else if !path.IsAbs(r.WorkDir) {
		errs = append(errs, ValidationError{"workdir", "must be an absolute path"})
	}

	if r.Module == "" {
		errs = append(errs, ValidationError{"module", "is required"})
	} else if !moduleRe.MatchString(r.Module) {
		errs = append(errs, ValidationError{"module", fmt.Sprintf("'%s' is not a dotted module name", r.Module)})
	}

	if len(r.Args) > 0 && !r.AllowArgs {
		errs = append(errs, ValidationError{"args", "the default command takes no arguments unless 'allow_args' is set"})
	}

	errs = append(errs, validateContextFile(r.Manifest, "manifest", true)...)
	errs = append(errs, validateContextFile(strings.TrimSuffix(r.Lockfile, "*"), "lockfile", false)...)
	if r.Lockfile != "" && r.Lockfile == r.Manifest {
		errs = append(errs, ValidationError{"lockfile", "must differ from manifest"})
	}

	errs = append(errs, validateManager(&r.Manager)...)
	errs = append(errs, validateEnv(r.Env, "env")...)

	for i, pkg := range r.SystemPackages {
		if pkg == "" || strings.ContainsAny(pkg, " \t;&|`$") {
			errs = append(errs, ValidationError{fmt.Sprintf("system_packages[%d]", i), "must be a single package name"})
		}
	}

	switch r.Source.Type {
	case "local":
	case "git":
		if r.Source.URL == "" {
			errs = append(errs, ValidationError{"source.url", "is required for git source"})
		}
	default:
		errs = append(errs, ValidationError{"source.type", "must be 'local' or 'git'"})
	}

	if r.Tag != "" {
		if _, err := reference.ParseNormalizedNamed(r.Tag); err != nil {
			errs = append(errs, ValidationError{"tag", fmt.Sprintf("invalid image reference: %v", err)})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateManager(m *Manager) []ValidationError {
	var errs []ValidationError

	if _, ok := presets[m.Preset]; !ok {
		errs = append(errs, ValidationError{"manager.preset", fmt.Sprintf("unknown preset '%s' (known: %s)", m.Preset, strings.Join(Presets(), ", "))})
		return errs
	}
	if m.Version == "" {
		errs = append(errs, ValidationError{"manager.version", "is required"})
	} else if _, err := semver.StrictNewVersion(m.Version); err != nil {
		errs = append(errs, ValidationError{"manager.version", fmt.Sprintf("'%s' is not a pinned semantic version", m.Version)})
	}
	if m.Home == "" {
		errs = append(errs, ValidationError{"manager.home", "is required"})
	} else if !path.IsAbs(m.Home) {
		errs = append(errs, ValidationError{"manager.home", "must be an absolute path"})
	}
	if m.HomeEnv == "" || !envKeyRe.MatchString(m.HomeEnv) {
		errs = append(errs, ValidationError{"manager.home_env", "must be a valid environment variable name"})
	}
	if m.VersionEnv != "" && !envKeyRe.MatchString(m.VersionEnv) {
		errs = append(errs, ValidationError{"manager.version_env", "must be a valid environment variable name"})
	}
	switch m.Installer {
	case InstallerScript:
		errs = append(errs, validateInstallerURL(m.InstallerURL)...)
		if m.InstallerShell == "" || !shellNameRe.MatchString(m.InstallerShell) {
			errs = append(errs, ValidationError{"manager.installer_shell", "must name an interpreter such as 'python3' or 'sh'"})
		}
	case InstallerPip:
		if !packageRe.MatchString(m.Package) {
			errs = append(errs, ValidationError{"manager.package", fmt.Sprintf("'%s' is not a valid package name", m.Package)})
		}
	default:
		errs = append(errs, ValidationError{"manager.installer", fmt.Sprintf("must be '%s' or '%s'", InstallerScript, InstallerPip)})
	}
	if len(m.Install) == 0 {
		errs = append(errs, ValidationError{"manager.install", "is required"})
	}
	if len(m.Run) == 0 {
		errs = append(errs, ValidationError{"manager.run", "is required"})
	} else if strings.Contains(m.Run[0], "/") {
		errs = append(errs, ValidationError{"manager.run", "must name the manager without an absolute path"})
	}
	errs = append(errs, validateEnv(m.Env, "manager.env")...)
	return errs
}

// validateInstallerURL accepts http(s) URLs that can be embedded in a RUN
// line without quoting.
func validateInstallerURL(raw string) []ValidationError {
	if raw == "" {
		return []ValidationError{{"manager.installer_url", "is required"}}
	}
	if strings.ContainsAny(raw, unsafeURLChars) {
		return []ValidationError{{"manager.installer_url", "must not contain quotes, whitespace, '$', '`' or '\\'"}}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return []ValidationError{{"manager.installer_url", "must be an http(s) URL"}}
	}
	return nil
}

func validateContextFile(name, field string, required bool) []ValidationError {
	if name == "" {
		if required {
			return []ValidationError{{field, "is required"}}
		}
		return nil
	}
	if path.IsAbs(name) {
		return []ValidationError{{field, "must be relative to the build context"}}
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return []ValidationError{{field, "must not escape the build context"}}
	}
	return nil
}

func validateEnv(env map[string]string, field string) []ValidationError {
	var errs []ValidationError
	for k := range env {
		if !envKeyRe.MatchString(k) {
			errs = append(errs, ValidationError{field + "." + k, "is not a valid environment variable name"})
		}
	}
	return errs
}

// ParsePlatform parses an os/arch[/variant] platform string.
func ParsePlatform(s string) (*v1.Platform, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("'%s' must be in os/arch[/variant] form", s)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("'%s' has an empty component", s)
		}
	}
	p := &v1.Platform{OS: parts[0], Architecture: parts[1]}
	if len(parts) == 3 {
		p.Variant = parts[2]
	}
	return p, nil
}
