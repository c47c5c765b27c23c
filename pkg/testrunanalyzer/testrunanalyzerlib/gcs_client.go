package testrunanalyzerlib

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/iterator"

	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerapi"
)

// DefaultGCSBackoff spaces the retries of failed listings and object reads.
var DefaultGCSBackoff = gax.Backoff{
	Initial:    500 * time.Millisecond,
	Max:        30 * time.Second,
	Multiplier: 2,
}

// WithReadRetries retries every failed call on bucket. The analyzer never writes to the
// bucket, all calls are safe to repeat.
func WithReadRetries(bucket *storage.BucketHandle, backoff gax.Backoff) *storage.BucketHandle {
	return bucket.Retryer(storage.WithBackoff(backoff), storage.WithPolicy(storage.RetryAlways))
}

type gcsEnumerator struct {
	bucket    *storage.BucketHandle
	prefix    string
	recursive bool
}

// NewGCSEnumerator lists extracts stored below prefix in a bucket.
func NewGCSEnumerator(bucket *storage.BucketHandle, prefix string, recursive bool) CandidateEnumerator {
	return &gcsEnumerator{
		bucket:    bucket,
		prefix:    prefix,
		recursive: recursive,
	}
}

func NewGCSArtifact(bucket *storage.BucketHandle, name string, updated time.Time) testrunanalyzerapi.Artifact {
	return testrunanalyzerapi.NewArtifact(name, updated, func(ctx context.Context) (io.ReadCloser, error) {
		return bucket.Object(name).NewReader(ctx)
	})
}

func (e *gcsEnumerator) ListArtifacts(ctx context.Context) ([]testrunanalyzerapi.Artifact, error) {
	query := &storage.Query{
		Prefix: e.prefix,
	}
	if !e.recursive {
		// objects in "subdirectories" are collapsed into prefixes
		query.Delimiter = "/"
	}
	// Only retrieve the name and the update time for performance
	if err := query.SetAttrSelection([]string{"Name", "Updated"}); err != nil {
		return nil, err
	}

	var ret []testrunanalyzerapi.Artifact
	it := e.bucket.Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects below %q: %w", e.prefix, err)
		}
		if len(attrs.Prefix) > 0 || !isExtract(attrs.Name) {
			continue
		}
		ret = append(ret, NewGCSArtifact(e.bucket, attrs.Name, attrs.Updated))
	}
	return ret, nil
}
