// Package blob stores raw uploads, rendered artifacts and bundles on local disk.
package blob

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// BundleEntry is one file to place in a bundle under Name.
type BundleEntry struct {
	Name string
	Path string
}

// Local keeps every managed blob below Root.
type Local struct {
	Root string
}

// NewLocal creates the storage root when missing.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{Root: abs}, nil
}

// SaveUpload copies r into the job's upload directory under a generated name.
func (l *Local) SaveUpload(jobID, filename string, r io.Reader) (string, int64, error) {
	dir := filepath.Join(l.Root, "uploads", jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create upload dir: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+strings.ToLower(filepath.Ext(filename)))
	dst, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, r)
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("failed to write file: %w", err)
	}
	return path, n, nil
}

// WriteArtifact writes rendered text for one file of a job.
func (l *Local) WriteArtifact(jobID, fileID, name, content string) (string, int64, error) {
	dir := filepath.Join(l.Root, "artifacts", jobID, fileID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", 0, fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, int64(len(content)), nil
}

// WriteBundle builds {jobID}.zip holding manifestName plus every entry.
// Entries whose file no longer exists are skipped and reported.
// Clashing names get a numeric suffix.
func (l *Local) WriteBundle(jobID, manifestName, manifest string, entries []BundleEntry) (path string, size int64, skipped []string, err error) {
	dir := filepath.Join(l.Root, "artifacts", jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, nil, fmt.Errorf("failed to create bundle dir: %w", err)
	}
	path = filepath.Join(dir, jobID+".zip")
	tmp := path + ".tmp"

	out, err := os.Create(tmp)
	if err != nil {
		return "", 0, nil, fmt.Errorf("failed to create bundle: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	zw := zip.NewWriter(out)
	used := map[string]int{}
	if err = writeZipEntry(zw, manifestName, strings.NewReader(manifest)); err != nil {
		_ = out.Close()
		return "", 0, nil, err
	}
	used[manifestName] = 1

	for _, entry := range entries {
		f, openErr := os.Open(entry.Path)
		if errors.Is(openErr, os.ErrNotExist) {
			skipped = append(skipped, entry.Name)
			continue
		}
		if openErr != nil {
			_ = out.Close()
			return "", 0, nil, fmt.Errorf("open %s: %w", entry.Name, openErr)
		}
		err = writeZipEntry(zw, uniqueName(used, entry.Name), f)
		_ = f.Close()
		if err != nil {
			_ = out.Close()
			return "", 0, nil, err
		}
	}

	if err = zw.Close(); err != nil {
		_ = out.Close()
		return "", 0, nil, fmt.Errorf("finalize bundle: %w", err)
	}
	if err = out.Close(); err != nil {
		return "", 0, nil, err
	}
	if err = os.Rename(tmp, path); err != nil {
		return "", 0, nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, nil, err
	}
	return path, info.Size(), skipped, nil
}

// Remove deletes managed paths and returns how many files were removed.
// Paths outside Root and already-missing files are ignored.
func (l *Local) Remove(paths []string) (int, error) {
	removed := 0
	var errs []error
	for _, p := range paths {
		if !l.contains(p) {
			continue
		}
		err := os.Remove(p)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, os.ErrNotExist):
		default:
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}

// contains reports whether p resolves inside Root.
func (l *Local) contains(p string) bool {
	if strings.TrimSpace(p) == "" {
		return false
	}
	rel, err := filepath.Rel(l.Root, filepath.Clean(p))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func writeZipEntry(zw *zip.Writer, name string, r io.Reader) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// UniqueEntries returns entries with clashing names given a numeric suffix,
// the same names WriteBundle stores them under. Reserved names count as taken.
func UniqueEntries(entries []BundleEntry, reserved ...string) []BundleEntry {
	used := map[string]int{}
	for _, name := range reserved {
		used[name] = 1
	}
	out := make([]BundleEntry, len(entries))
	for i, entry := range entries {
		out[i] = BundleEntry{Name: uniqueName(used, entry.Name), Path: entry.Path}
	}
	return out
}

func uniqueName(used map[string]int, name string) string {
	used[name]++
	if used[name] == 1 {
		return name
	}
	ext := filepath.Ext(name)
	candidate := strings.TrimSuffix(name, ext) + "-" + strconv.Itoa(used[name]) + ext
	return uniqueName(used, candidate)
}
