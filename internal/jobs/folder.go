package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"transcribe-multilingual/internal/domain"
	"transcribe-multilingual/internal/transcribe"
)

// FolderScan describes a folder ingestion request.
type FolderScan struct {
	Path       string
	Recursive  bool
	Extensions []string
}

// ScanFolder lists the media files of an allow-listed folder as job inputs.
// Folders outside every allow-listed root fail with ErrFolderNotAllowed.
func (s *Service) ScanFolder(ctx context.Context, scan FolderScan) ([]domain.InputMedia, error) {
	if s.mode != transcribe.ModeLocal {
		return nil, domain.Invalidf("folder ingestion is available only in local mode")
	}
	if strings.TrimSpace(scan.Path) == "" {
		return nil, domain.Invalidf("folder path is required")
	}

	roots := lo.FilterMap(s.settings.LocalFolderAllowlist(ctx), func(root string, _ int) (string, bool) {
		resolved, err := resolvePath(root)
		return resolved, err == nil && resolved != ""
	})
	if len(roots) == 0 {
		return nil, domain.Invalidf("local folder allowlist is empty")
	}

	target, err := resolvePath(scan.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("resolve folder: %w", err)
	}
	if !lo.SomeBy(roots, func(root string) bool { return withinRoot(root, target) }) {
		return nil, fmt.Errorf("%s: %w", scan.Path, ErrFolderNotAllowed)
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, domain.NotFound("folder", scan.Path)
	}
	if !info.IsDir() {
		return nil, domain.Invalidf("%s is not a directory", scan.Path)
	}

	extensions := scan.Extensions
	if len(extensions) == 0 {
		extensions = s.extensions
	}
	allowed := lo.SliceToMap(extensions, func(ext string) (string, struct{}) {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		return ext, struct{}{}
	})
	delete(allowed, "")

	var inputs []domain.InputMedia
	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != target && !scan.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, ok := allowed[strings.ToLower(filepath.Ext(path))]; len(allowed) > 0 && !ok {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		inputs = append(inputs, domain.InputMedia{
			Name:      d.Name(),
			Source:    domain.InputSourceFolder,
			SizeBytes: fi.Size(),
			Path:      path,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan folder: %w", err)
	}
	if len(inputs) == 0 {
		return nil, domain.Invalidf("no eligible files found in folder")
	}
	return inputs, nil
}

// resolvePath returns an absolute, symlink-free path. Missing paths are
// still made absolute so they can be checked against the allow-list.
func resolvePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs, err
	}
	return resolved, nil
}

// withinRoot reports whether target is root or one of its descendants.
func withinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
