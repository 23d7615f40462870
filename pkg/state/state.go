// Package state persists per-recipe build history under ~/.layerctl.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/opencontainers/go-digest"
)

// HomeEnv overrides the base directory.
const HomeEnv = "LAYERCTL_HOME"

// DefaultKeep is the number of builds retained per recipe.
const DefaultKeep = 20

// Build is one completed build of a recipe.
type Build struct {
	ID                 string        `json:"id"`
	ImageID            string        `json:"image_id"`
	ImageTag           string        `json:"image_tag"`
	RecipeDigest       digest.Digest `json:"recipe_digest"`
	DepsDigest         digest.Digest `json:"deps_digest"`
	SourceDigest       digest.Digest `json:"source_digest"`
	DependenciesCached bool          `json:"dependencies_cached"`
	NoCache            bool          `json:"no_cache,omitempty"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
}

// History is the stored build record of a recipe, oldest first.
type History struct {
	Recipe string  `json:"recipe"`
	Builds []Build `json:"builds"`
}

// Last returns the most recent build, or nil.
func (h *History) Last() *Build {
	if h == nil || len(h.Builds) == 0 {
		return nil
	}
	return &h.Builds[len(h.Builds)-1]
}

// BaseDir returns the base layerctl directory ($LAYERCTL_HOME or ~/.layerctl/).
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".layerctl")
}

// StateDir returns the directory for history files.
func StateDir() string {
	return filepath.Join(BaseDir(), "state")
}

// LogDir returns the directory for log files.
func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// SourceDir returns the directory holding git checkouts.
func SourceDir() string {
	return filepath.Join(BaseDir(), "src")
}

// StatePath returns the path to the history file for a recipe.
func StatePath(name string) string {
	return filepath.Join(StateDir(), name+".json")
}

// LogPath returns the path to the log file for a recipe.
func LogPath(name string) string {
	return filepath.Join(LogDir(), name+".log")
}

// LockPath returns the path to the lock file for a recipe.
func LockPath(name string) string {
	return filepath.Join(StateDir(), name+".lock")
}

// Load reads the history of a recipe. A recipe never built has an empty history.
func Load(name string) (*History, error) {
	data, err := os.ReadFile(StatePath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &History{Recipe: name}, nil
		}
		return nil, err
	}

	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	if h.Recipe == "" {
		h.Recipe = name
	}
	return &h, nil
}

// Save writes the history file, replacing it atomically.
func Save(h *History) error {
	if h == nil || h.Recipe == "" {
		return fmt.Errorf("history has no recipe name")
	}
	if err := os.MkdirAll(StateDir(), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	path := StatePath(h.Recipe)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

// Append records a build and trims the history to the newest keep entries.
func Append(name string, b Build, keep int) error {
	if keep <= 0 {
		keep = DefaultKeep
	}
	h, err := Load(name)
	if err != nil {
		return err
	}
	h.Builds = append(h.Builds, b)
	if len(h.Builds) > keep {
		h.Builds = h.Builds[len(h.Builds)-keep:]
	}
	return Save(h)
}

// Last returns the most recent build of a recipe, or nil if it was never built.
func Last(name string) (*Build, error) {
	h, err := Load(name)
	if err != nil {
		return nil, err
	}
	return h.Last(), nil
}

// Delete removes a history file.
func Delete(name string) error {
	if err := os.Remove(StatePath(name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns the names of all recipes with history.
func List() ([]string, error) {
	entries, err := os.ReadDir(StateDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	return names, nil
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	return os.MkdirAll(LogDir(), 0755)
}

// WithLock executes fn while holding an exclusive lock on the recipe's state.
// Returns error if lock cannot be acquired within timeout.
func WithLock(name string, timeout time.Duration, fn func() error) error {
	if err := os.MkdirAll(StateDir(), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	lockFile, err := os.OpenFile(LockPath(name), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}
	defer lockFile.Close()

	deadline := time.Now().Add(timeout)
	for {
		err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout acquiring state lock for %s (another build may be in progress)", name)
		}
		time.Sleep(100 * time.Millisecond)
	}
	defer func() {
		_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
	}()

	return fn()
}
