package testrunanalyzerapi

import (
	"context"
	"io"
	"time"

	"github.com/spf13/afero"
)

func NewFilesystemArtifact(fs afero.Fs, path string, modTime time.Time) Artifact {
	return NewArtifact(path, modTime, func(ctx context.Context) (io.ReadCloser, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fs.Open(path)
	})
}
