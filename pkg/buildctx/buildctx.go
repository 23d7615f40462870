// Package buildctx assembles the tar stream sent to the Docker daemon as the
// build context.
package buildctx

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"

	"github.com/layerctl/layerctl/pkg/plan"
)

// ErrManifestMissing is returned when the dependency manifest is not part of
// the build context.
var ErrManifestMissing = errors.New("dependency manifest missing from build context")

// dockerignore is injected so the daemon drops the generated files after
// reading the Dockerfile, keeping them out of "COPY . .". The classic builder
// only removes files named here, so both live at the context root.
const dockerignore = plan.DockerfileName + "\n.dockerignore\n"

// defaultExcludes are always left out of the context. .env holds runtime
// credentials and must never be baked into an image.
var defaultExcludes = []string{
	".git",
	".gitignore",
	"node_modules",
	"__pycache__",
	"**/__pycache__",
	"*.pyc",
	"**/*.pyc",
	".venv",
	".env",
	".env.*",
	plan.DockerfileName,
}

// Options controls archive creation.
type Options struct {
	Excludes []string
	Compress bool
}

// Excludes returns the default patterns plus those from the context's .dockerignore.
func Excludes(contextDir string) ([]string, error) {
	patterns := append([]string(nil), defaultExcludes...)

	f, err := os.Open(filepath.Join(contextDir, ".dockerignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return patterns, nil
		}
		return nil, fmt.Errorf("opening .dockerignore: %w", err)
	}
	defer f.Close()

	extra, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading .dockerignore: %w", err)
	}
	return append(patterns, extra...), nil
}

// CheckManifest verifies the manifest exists and survives the exclusions.
// A lockfile is optional and never checked.
func CheckManifest(contextDir, manifest string, excludes []string) error {
	info, err := os.Stat(filepath.Join(contextDir, manifest))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrManifestMissing, manifest)
		}
		return fmt.Errorf("checking manifest: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrManifestMissing, manifest)
	}

	excluded, err := patternmatcher.MatchesOrParentMatches(filepath.ToSlash(manifest), excludes)
	if err != nil {
		return fmt.Errorf("matching exclude patterns: %w", err)
	}
	if excluded {
		return fmt.Errorf("%w: %s is excluded by .dockerignore", ErrManifestMissing, manifest)
	}
	return nil
}

// Archive streams the context directory as a tar archive with the generated
// Dockerfile injected at plan.DockerfileName. The caller must close the reader.
func Archive(contextDir string, dockerfile []byte, opts Options) (io.ReadCloser, error) {
	pm, err := patternmatcher.New(opts.Excludes)
	if err != nil {
		return nil, fmt.Errorf("parsing exclude patterns: %w", err)
	}
	if info, err := os.Stat(contextDir); err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("build context is not a directory: %s", contextDir)
	}

	pr, pw := io.Pipe()

	go func() {
		var out io.Writer = pw
		var gz *gzip.Writer
		if opts.Compress {
			gz = gzip.NewWriter(pw)
			out = gz
		}
		tw := tar.NewWriter(out)

		err := writeTree(tw, contextDir, pm)
		if err == nil {
			err = writeFile(tw, plan.DockerfileName, dockerfile)
		}
		if err == nil {
			err = writeFile(tw, ".dockerignore", []byte(dockerignore))
		}
		if cerr := tw.Close(); err == nil {
			err = cerr
		}
		if gz != nil {
			if cerr := gz.Close(); err == nil {
				err = cerr
			}
		}
		pw.CloseWithError(err)
	}()

	return pr, nil
}

func writeTree(tw *tar.Writer, root string, pm *patternmatcher.PatternMatcher) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		// The injected .dockerignore replaces the user's one.
		if rel == ".dockerignore" {
			return nil
		}

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

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		header.Name = rel
		if info.IsDir() {
			header.Name += "/"
		}
		normalizeOwner(header)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

func writeFile(tw *tar.Writer, name string, data []byte) error {
	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     0644,
		Size:     int64(len(data)),
		ModTime:  time.Unix(0, 0),
	}); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

func normalizeOwner(h *tar.Header) {
	h.Uid, h.Gid = 0, 0
	h.Uname, h.Gname = "", ""
}
