package recipe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// Load reads, expands, defaults and validates a recipe file.
// YAML is the default format; .json, .jsonc and .hujson files are parsed as
// JSON with comments and trailing commas.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recipe file: %w", err)
	}

	r, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}

	expandEnvVars(r)
	r.SetDefaults()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving recipe path: %w", err)
	}
	resolveRelativePaths(r, filepath.Dir(absPath))

	if err := Validate(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Parse decodes recipe bytes. ext selects the format (".yaml", ".json", ...).
func Parse(data []byte, ext string) (*Recipe, error) {
	var r Recipe
	switch strings.ToLower(ext) {
	case ".json", ".jsonc", ".hujson":
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("parsing recipe JSON: %w", err)
		}
		if err := json.Unmarshal(std, &r); err != nil {
			return nil, fmt.Errorf("parsing recipe JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("parsing recipe YAML: %w", err)
		}
	}
	return &r, nil
}

// expandEnvVars expands environment variables in the recipe's string values.
func expandEnvVars(r *Recipe) {
	r.Name = os.ExpandEnv(r.Name)
	r.Base = os.ExpandEnv(r.Base)
	r.Platform = os.ExpandEnv(r.Platform)
	r.Tag = os.ExpandEnv(r.Tag)
	r.Manager.Version = os.ExpandEnv(r.Manager.Version)
	r.Manager.InstallerURL = os.ExpandEnv(r.Manager.InstallerURL)
	r.Source.Path = os.ExpandEnv(r.Source.Path)
	r.Source.URL = os.ExpandEnv(r.Source.URL)
	r.Source.Ref = os.ExpandEnv(r.Source.Ref)

	for k, v := range r.BuildArgs {
		r.BuildArgs[k] = os.ExpandEnv(v)
	}
	for k, v := range r.Labels {
		r.Labels[k] = os.ExpandEnv(v)
	}
	// Env values are left alone: "$PATH"-style references are resolved
	// inside the image, not on the build host.
}

// resolveRelativePaths resolves the local context path relative to the recipe file.
func resolveRelativePaths(r *Recipe, basePath string) {
	if r.Source.Type != "local" {
		return
	}
	switch {
	case r.Source.Path == "":
		r.Source.Path = basePath
	case !filepath.IsAbs(r.Source.Path):
		r.Source.Path = filepath.Join(basePath, r.Source.Path)
	}
}
