package builder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/opencontainers/go-digest"

	"github.com/layerctl/layerctl/pkg/logging"
	"github.com/layerctl/layerctl/pkg/state"
)

// CloneOrUpdate keeps a checkout of url at ref under the layerctl source
// directory and returns its path.
func CloneOrUpdate(url, ref string, logger *slog.Logger) (string, error) {
	logger = logging.OrDiscard(logger)
	dest := checkoutDir(url, ref)

	if _, err := os.Stat(filepath.Join(dest, ".git")); err == nil {
		return updateRepo(dest, ref, logger)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("creating source directory: %w", err)
	}
	return cloneRepo(url, ref, dest, logger)
}

// checkoutDir derives a stable directory name from the repository URL and ref.
func checkoutDir(url, ref string) string {
	name := strings.TrimSuffix(path.Base(strings.TrimRight(url, "/")), ".git")
	if name == "" || name == "." || name == "/" {
		name = "repo"
	}
	return filepath.Join(state.SourceDir(), name+"-"+digest.FromString(url + "\n" + ref).Encoded()[:12])
}

func cloneRepo(url, ref, dest string, logger *slog.Logger) (string, error) {
	logger.Info("cloning repository", "url", url, "ref", ref)

	opts := &git.CloneOptions{URL: url}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
		opts.SingleBranch = true
	}

	_, err := git.PlainClone(dest, false, opts)
	if err != nil && ref != "" {
		// Not a branch; retry as a tag.
		_ = os.RemoveAll(dest)
		opts.ReferenceName = plumbing.NewTagReferenceName(ref)
		_, err = git.PlainClone(dest, false, opts)
	}
	if err != nil {
		_ = os.RemoveAll(dest)
		return "", fmt.Errorf("cloning %s: %w", url, err)
	}
	return dest, nil
}

func updateRepo(dir, ref string, logger *slog.Logger) (string, error) {
	logger.Info("updating repository", "path", dir, "ref", ref)

	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("opening repository: %w", err)
	}

	if ref == "" {
		wt, err := repo.Worktree()
		if err != nil {
			return "", fmt.Errorf("getting worktree: %w", err)
		}
		err = wt.Pull(&git.PullOptions{RemoteName: "origin", Force: true})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return "", fmt.Errorf("pulling: %w", err)
		}
		return dir, nil
	}

	// Single-branch clones only track their own branch, so fetch every head.
	err = repo.Fetch(&git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{allHeads},
		Force:      true,
		Tags:       git.AllTags,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", fmt.Errorf("fetching: %w", err)
	}
	if err := checkoutRef(repo, ref); err != nil {
		return "", err
	}
	return dir, nil
}

const allHeads = config.RefSpec("+refs/heads/*:refs/remotes/origin/*")

// checkoutRef detaches the worktree at the remote branch, tag or commit named by ref.
func checkoutRef(repo *git.Repository, ref string) error {
	candidates := []string{
		"refs/remotes/origin/" + ref,
		"refs/tags/" + ref,
		ref,
	}

	for _, c := range candidates {
		hash, err := repo.ResolveRevision(plumbing.Revision(c))
		if err != nil {
			continue
		}
		wt, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("getting worktree: %w", err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
			return fmt.Errorf("checking out %s: %w", ref, err)
		}
		return nil
	}
	return fmt.Errorf("ref %q not found", ref)
}
