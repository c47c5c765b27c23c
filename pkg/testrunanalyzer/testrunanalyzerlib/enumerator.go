package testrunanalyzerlib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerapi"
)

//go:generate mockgen -source=enumerator.go -destination=enumerator_mock.go -package=testrunanalyzerlib

// CandidateEnumerator lists the artifacts below a root location. The result is unordered.
// Listing the same root twice yields the same artifacts.
type CandidateEnumerator interface {
	ListArtifacts(ctx context.Context) ([]testrunanalyzerapi.Artifact, error)
}

var extractExtensions = []string{".json", ".yaml", ".yml"}

func isExtract(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range extractExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

type filesystemEnumerator struct {
	fs        afero.Fs
	root      string
	recursive bool
}

// NewFilesystemEnumerator lists extracts in root, which may also name a single file.
func NewFilesystemEnumerator(fs afero.Fs, root string, recursive bool) CandidateEnumerator {
	return &filesystemEnumerator{
		fs:        fs,
		root:      root,
		recursive: recursive,
	}
}

func (e *filesystemEnumerator) ListArtifacts(ctx context.Context) ([]testrunanalyzerapi.Artifact, error) {
	info, err := e.fs.Stat(e.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", e.root, err)
	}
	if !info.IsDir() {
		return []testrunanalyzerapi.Artifact{testrunanalyzerapi.NewFilesystemArtifact(e.fs, e.root, info.ModTime())}, nil
	}

	var ret []testrunanalyzerapi.Artifact
	var errs []error
	err = afero.Walk(e.fs, e.root, func(path string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if info.IsDir() {
			if !e.recursive && filepath.Clean(path) != filepath.Clean(e.root) {
				return filepath.SkipDir
			}
			return nil
		}
		if isExtract(path) {
			ret = append(ret, testrunanalyzerapi.NewFilesystemArtifact(e.fs, path, info.ModTime()))
		}
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, utilerrors.NewAggregate(errs)
	}
	return ret, nil
}
