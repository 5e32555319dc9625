package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// hashPrefixSize is how much of a file feeds the content hash.
// The hash is a cheap change signal, not an integrity check.
const hashPrefixSize = 1024 * 1024

// Scanner discovers indexable files beneath root paths.
type Scanner struct {
	allowExts   map[string]struct{}
	maxFileSize int64
	workers     int
}

// New creates a Scanner with the given extension allow-list, size cap, and
// stat+hash worker count.
func New(extensions []string, maxFileSize int64, workers int) *Scanner {
	allow := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		allow[strings.ToLower(ext)] = struct{}{}
	}
	if maxFileSize <= 0 {
		maxFileSize = 100 * 1024 * 1024
	}
	if workers <= 0 {
		workers = 4
	}
	return &Scanner{
		allowExts:   allow,
		maxFileSize: maxFileSize,
		workers:     workers,
	}
}

// Scan walks root and streams FileDescriptors for every allowed file.
// Per-file errors are reported on the channel and do not abort the scan;
// only a bad root path fails the call itself.
func (s *Scanner) Scan(ctx context.Context, root string, opts ScanOptions) (<-chan Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	allow := s.allowExts
	if len(opts.Extensions) > 0 {
		allow = make(map[string]struct{}, len(opts.Extensions))
		for _, ext := range opts.Extensions {
			if _, ok := s.allowExts[strings.ToLower(ext)]; ok {
				allow[strings.ToLower(ext)] = struct{}{}
			}
		}
	}

	paths := make(chan string, s.workers*4)
	results := make(chan Result, s.workers*4)

	// Walk in one goroutine, hash in a bounded pool.
	go func() {
		defer close(paths)
		walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				select {
				case results <- Result{Err: fmt.Errorf("walk %s: %w", path, err)}:
				case <-ctx.Done():
					return ctx.Err()
				}
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if path != absRoot {
					if !opts.IncludeHidden && isHidden(d.Name()) {
						return fs.SkipDir
					}
					if !opts.Recursive {
						return fs.SkipDir
					}
				}
				return nil
			}
			if !opts.IncludeHidden && isHidden(d.Name()) {
				return nil
			}
			if _, ok := allow[Ext(path)]; !ok {
				return nil
			}
			select {
			case paths <- path:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if walkErr != nil && ctx.Err() == nil {
			slog.Warn("scan_walk_aborted", slog.String("root", absRoot), slog.String("error", walkErr.Error()))
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				fd, err := s.describe(path)
				if err != nil {
					select {
					case results <- Result{Err: err}:
					case <-ctx.Done():
						return
					}
					continue
				}
				if fd == nil {
					continue // dropped by size cap
				}
				select {
				case results <- Result{File: fd}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results, nil
}

// describe stats and hashes a single file. Returns (nil, nil) for files
// dropped by the size cap.
func (s *Scanner) describe(path string) (*FileDescriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > s.maxFileSize {
		slog.Debug("scan_file_too_large",
			slog.String("path", path),
			slog.Int64("size", info.Size()),
			slog.Int64("max", s.maxFileSize))
		return nil, nil
	}

	hash, err := HashPrefix(path)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}

	return &FileDescriptor{
		Path:        path,
		Name:        filepath.Base(path),
		Ext:         Ext(path),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Mime:        DetectMime(path),
		Type:        DetectType(path),
		ContentHash: hash,
	}, nil
}

// Collect drains a scan into a slice, separating per-file errors.
func Collect(results <-chan Result) (files []*FileDescriptor, errs []error) {
	for r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		files = append(files, r.File)
	}
	return files, errs
}

// Diff scans root and compares against the store's view of known files.
// A path is changed when it is new or its (mtime, size) differs from the
// known record; a known path absent from the scan is deleted.
func (s *Scanner) Diff(ctx context.Context, root string, opts ScanOptions, known map[string]*KnownFile) (*DiffResult, error) {
	results, err := s.Scan(ctx, root, opts)
	if err != nil {
		return nil, err
	}

	diff := &DiffResult{}
	seen := make(map[string]struct{}, len(known))

	for r := range results {
		if r.Err != nil {
			slog.Warn("diff_scan_error", slog.String("error", r.Err.Error()))
			continue
		}
		fd := r.File
		seen[fd.Path] = struct{}{}
		prev, ok := known[fd.Path]
		if !ok {
			diff.Changed = append(diff.Changed, fd)
			continue
		}
		if !prev.ModTime.Equal(fd.ModTime) || prev.Size != fd.Size {
			diff.Changed = append(diff.Changed, fd)
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	for path := range known {
		if _, ok := seen[path]; !ok {
			diff.Deleted = append(diff.Deleted, path)
		}
	}

	return diff, nil
}

// HashPrefix computes the SHA-256 hex digest of up to the first 1MiB of path.
func HashPrefix(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(f, hashPrefixSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
