// Package cachekey computes content keys that predict which build layers the
// image builder can reuse.
package cachekey

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/moby/patternmatcher"
	"github.com/opencontainers/go-digest"

	"github.com/layerctl/layerctl/pkg/recipe"
)

// absentMarker stands in for a missing lockfile.
const absentMarker = "absent"

// Dependencies returns the key of the dependency installation layer: the
// recipe's install inputs, the manifest and the lockfiles the daemon will
// receive (or their absence). Lockfiles matched by excludes never reach the
// daemon and count as absent. Nothing else in the context contributes.
func Dependencies(r *recipe.Recipe, contextDir string, excludes []string) (digest.Digest, error) {
	pm, err := patternmatcher.New(excludes)
	if err != nil {
		return "", fmt.Errorf("parsing exclude patterns: %w", err)
	}

	d := digest.Canonical.Digester()
	h := d.Hash()

	fmt.Fprintf(h, "recipe %s\n", r.Digest())

	manifest, err := os.ReadFile(filepath.Join(contextDir, r.Manifest))
	if err != nil {
		return "", fmt.Errorf("reading manifest %s: %w", r.Manifest, err)
	}
	fmt.Fprintf(h, "manifest %s %d\n", r.Manifest, len(manifest))
	h.Write(manifest)

	locks, err := lockfiles(r, contextDir, pm)
	if err != nil {
		return "", err
	}
	if len(locks) == 0 {
		fmt.Fprintf(h, "lockfile %s\n", absentMarker)
	}
	for _, name := range locks {
		data, err := os.ReadFile(filepath.Join(contextDir, name))
		if err != nil {
			return "", fmt.Errorf("reading lockfile: %w", err)
		}
		fmt.Fprintf(h, "lockfile %s %d\n", name, len(data))
		h.Write(data)
	}

	return d.Digest(), nil
}

// lockfiles returns the context-relative files matching the lockfile
// wildcard that are not excluded, in lexical order.
func lockfiles(r *recipe.Recipe, contextDir string, pm *patternmatcher.PatternMatcher) ([]string, error) {
	pattern := r.LockfilePattern()
	if pattern == "" {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(contextDir, pattern))
	if err != nil {
		return nil, fmt.Errorf("matching lockfile %s: %w", pattern, err)
	}

	var names []string
	for _, m := range matches {
		rel, err := filepath.Rel(contextDir, m)
		if err != nil {
			return nil, err
		}
		rel = filepath.ToSlash(rel)
		excluded, err := pm.MatchesOrParentMatches(rel)
		if err != nil {
			return nil, err
		}
		if !excluded {
			names = append(names, rel)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Source returns a key over every file in the context that is not excluded.
// Paths are visited in lexical order so the key is stable.
func Source(contextDir string, excludes []string) (digest.Digest, error) {
	pm, err := patternmatcher.New(excludes)
	if err != nil {
		return "", fmt.Errorf("parsing exclude patterns: %w", err)
	}

	d := digest.Canonical.Digester()
	h := d.Hash()

	err = filepath.WalkDir(contextDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(contextDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		excluded, err := pm.MatchesOrParentMatches(rel)
		if err != nil {
			return err
		}
		if excluded {
			if entry.IsDir() && !pm.Exclusions() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "%s %o\n", rel, info.Mode())
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(h, f)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("hashing context: %w", err)
	}
	return d.Digest(), nil
}

// Status predicts whether a cached layer will be reused.
type Status string

const (
	Reused      Status = "reused"
	Invalidated Status = "invalidated"
	Unknown     Status = "unknown"
)

// Compare predicts the cache status of a layer from its previous and current keys.
func Compare(prev, cur digest.Digest) Status {
	if prev == "" || cur == "" {
		return Unknown
	}
	if prev == cur {
		return Reused
	}
	return Invalidated
}
