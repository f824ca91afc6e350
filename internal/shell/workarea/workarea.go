// Package workarea manages the scratch directory a publish run owns.
package workarea

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/artpar/apppublish/internal/core/deployment"
	"github.com/google/uuid"
)

// =============================================================================
// Working Area
// =============================================================================

// Area is an exclusively owned scratch directory holding staged packages.
type Area struct {
	path   string
	logger *slog.Logger
}

// New creates a uniquely named working area below baseDir.
// An empty baseDir uses the system temp directory.
func New(baseDir string, logger *slog.Logger) (*Area, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir %s: %w", baseDir, err)
	}

	path := filepath.Join(baseDir, deployment.WorkAreaName(uuid.New().String()))
	// Mkdir rather than MkdirAll so a name collision is an error
	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, fmt.Errorf("create working area: %w", err)
	}

	logger.Debug("working area created", "path", path)
	return &Area{path: path, logger: logger}, nil
}

// Path returns the directory of the working area.
func (a *Area) Path() string {
	return a.path
}

// Release removes the working area and everything in it.
// Failures are logged and returned; callers on an error path ignore them so
// the primary error is not masked.
func (a *Area) Release() error {
	if err := os.RemoveAll(a.path); err != nil {
		a.logger.Warn("failed to remove working area", "path", a.path, "error", err)
		return err
	}
	a.logger.Debug("working area removed", "path", a.path)
	return nil
}

// =============================================================================
// Staging
// =============================================================================

// LocalStaging copies package files from the local filesystem.
// A directory source stages every package file directly inside it, in name order.
type LocalStaging struct{}

// Stage copies sources into dir and returns the staged paths in order.
func (LocalStaging) Stage(ctx context.Context, dir string, sources []string) ([]string, error) {
	var files []string
	for _, src := range sources {
		expanded, err := expand(src)
		if err != nil {
			return nil, err
		}
		files = append(files, expanded...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no package files in %s", strings.Join(sources, ", "))
	}

	staged := make([]string, 0, len(files))
	for i, src := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dst := filepath.Join(dir, deployment.StagedFileName(i, filepath.Base(src)))
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("stage %s: %w", src, err)
		}
		staged = append(staged, dst)
	}
	return staged, nil
}

func expand(src string) ([]string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", src, err)
	}
	if !info.IsDir() {
		return []string{src}, nil
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", src, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), deployment.PackageExtension) {
			continue
		}
		files = append(files, filepath.Join(src, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
