// Package static maps request paths onto the document root and streams
// files back to the client.
package static

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"tinyhttpd-go/internal/model"
)

const indexFile = "index.html"

var (
	// ErrBadPath is returned for paths that cannot be decoded or are not
	// absolute.
	ErrBadPath = errors.New("static: malformed path")
	// ErrForbiddenPath is returned for paths that would leave the document root.
	ErrForbiddenPath = errors.New("static: path escapes document root")
	// ErrNotFound is returned when nothing servable exists at the path.
	ErrNotFound = errors.New("static: not found")
)

// Resolve maps rawPath onto root. A trailing "/" or a directory target
// resolves to its index.html. root must be absolute and clean.
func Resolve(root, rawPath string) (*model.ResolvedTarget, error) {
	if !strings.HasPrefix(rawPath, "/") {
		return nil, ErrBadPath
	}
	decoded, err := url.PathUnescape(rawPath)
	if err != nil || strings.IndexByte(decoded, 0) >= 0 {
		return nil, ErrBadPath
	}
	for _, seg := range strings.Split(decoded, "/") {
		if seg == ".." {
			return nil, ErrForbiddenPath
		}
	}

	p := filepath.Join(root, filepath.FromSlash(decoded))
	if !within(root, p) {
		return nil, ErrForbiddenPath
	}

	target := &model.ResolvedTarget{Path: p}
	if strings.HasSuffix(decoded, "/") {
		target.IsDirectory = true
		target.Path = filepath.Join(p, indexFile)
	}

	fi, err := os.Stat(target.Path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", target.Path, errors.Join(ErrNotFound, err))
	}
	if fi.IsDir() {
		target.IsDirectory = true
		target.Path = filepath.Join(target.Path, indexFile)
		if fi, err = os.Stat(target.Path); err != nil {
			return nil, fmt.Errorf("stat %s: %w", target.Path, errors.Join(ErrNotFound, err))
		}
		if fi.IsDir() {
			return nil, fmt.Errorf("%s is a directory: %w", target.Path, ErrNotFound)
		}
	}

	if err := contained(root, target.Path); err != nil {
		return nil, err
	}

	target.IsExecutable = fi.Mode().Perm()&0o111 != 0
	return target, nil
}

// contained follows symlinks in both root and p and fails with
// ErrForbiddenPath when the real target lies outside the real root.
func contained(root, p string) error {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("document root %s: %w", root, errors.Join(ErrNotFound, err))
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", p, errors.Join(ErrNotFound, err))
	}
	if !within(realRoot, resolved) {
		return fmt.Errorf("%s resolves to %s: %w", p, resolved, ErrForbiddenPath)
	}
	return nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
