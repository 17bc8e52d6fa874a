package store

import "context"

// MovePath moves an object by copying then deleting the source.
func MovePath(ctx context.Context, srcBackend Backend, srcPath string, dstBackend Backend, dstPath string, opts ...WriterOption) error {
	if err := CopyPath(ctx, srcBackend, srcPath, dstBackend, dstPath, opts...); err != nil {
		return err
	}

	return srcBackend.Delete(ctx, srcPath)
}
