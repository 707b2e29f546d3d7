/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/friendsincode/tablemix/internal/models"
)

// FileResolver serves filenames relative to a local media root.
type FileResolver struct {
	root     string
	maxBytes int64
}

// NewFileResolver creates a resolver rooted at dir.
func NewFileResolver(dir string, maxBytes int64) *FileResolver {
	return &FileResolver{root: dir, maxBytes: maxBytes}
}

// Fetch implements Resolver.
func (r *FileResolver) Fetch(ctx context.Context, ref models.SourceRef) ([]byte, error) {
	if r.root == "" || ref.Filename == "" {
		return nil, ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel := filepath.Clean("/" + filepath.ToSlash(ref.Filename))
	full := filepath.Join(r.root, rel)
	if !strings.HasPrefix(full, filepath.Clean(r.root)+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s escapes media root", ErrNotFound, ref.Filename)
	}

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.Filename)
		}
		return nil, fmt.Errorf("open asset: %w", err)
	}
	defer f.Close()
	return readLimited(f, r.maxBytes)
}
