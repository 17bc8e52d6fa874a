package store

import (
	"context"
	"io"
)

// CopyPath streams an object from one backend to another.
func CopyPath(ctx context.Context, srcBackend Backend, srcPath string, dstBackend Backend, dstPath string, opts ...WriterOption) error {
	r, err := srcBackend.NewReader(ctx, srcPath)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	w, err := dstBackend.NewWriter(ctx, dstPath, opts...)
	if err != nil {
		return err
	}

	if _, err = io.Copy(w, r); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}
