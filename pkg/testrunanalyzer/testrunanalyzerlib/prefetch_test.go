package testrunanalyzerlib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerapi"
)

var prefetchBaseTime = time.Date(2024, 2, 3, 9, 0, 0, 0, time.UTC)

// newTestArtifacts returns n artifacts in random order. Sorted by time, artifact i carries
// the metric "index" with value i.
func newTestArtifacts(n int) ([]testrunanalyzerapi.Artifact, map[string]int) {
	var ret []testrunanalyzerapi.Artifact
	indexOf := map[string]int{}
	for i := 0; i < n; i++ {
		performedAt := prefetchBaseTime.Add(time.Duration(i) * time.Minute)
		name := fmt.Sprintf("Test%d_%dmsHOST.%s.json", i%3, 10+i, performedAt.Format("20060102-150405"))
		content := fmt.Sprintf(`{"metrics":{"index":%d}}`, i)
		ret = append(ret, testrunanalyzerapi.NewArtifact(name, time.Time{}, func(ctx context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		}))
		indexOf[name] = i
	}
	rand.New(rand.NewSource(int64(n))).Shuffle(len(ret), func(i, j int) { ret[i], ret[j] = ret[j], ret[i] })
	return ret, indexOf
}

type observed struct {
	Name  string
	Index float64
}

func TestPrefetchingReaderMatchesEagerMaterialization(t *testing.T) {
	for _, n := range []int{0, 1, 5, 50} {
		t.Run(fmt.Sprintf("%d artifacts", n), func(t *testing.T) {
			ctx := context.Background()

			eager, _ := newTestArtifacts(n)
			testrunanalyzerapi.SortArtifacts(eager)
			var expected []observed
			for _, artifact := range eager {
				require.NoError(t, artifact.Materialize(ctx))
				expected = append(expected, observed{Name: artifact.GetName(), Index: artifact.GetExtract().Metrics["index"]})
			}

			candidates, _ := newTestArtifacts(n)
			reader, err := NewPrefetchingReader(MaterializeArtifact, WithMaxParallel(2), WithLookAhead(3))
			require.NoError(t, err)
			handles := reader.Start(ctx, candidates)
			require.Len(t, handles, n)

			var actual []observed
			for i, handle := range handles {
				assert.Equal(t, i, handle.Index())
				artifact, err := handle.Get(ctx)
				require.NoError(t, err)
				actual = append(actual, observed{Name: artifact.GetName(), Index: artifact.GetExtract().Metrics["index"]})
			}
			if diff := cmp.Diff(expected, actual); diff != "" {
				t.Errorf("prefetched sequence differs from eager sequence (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPrefetchingReaderBoundsParallelismAndLookAhead(t *testing.T) {
	const (
		n           = 40
		maxParallel = 3
		lookAhead   = 5
	)
	candidates, indexOf := newTestArtifacts(n)

	var inFlight, maxInFlight, violations int32
	var consumer int64
	materialize := func(ctx context.Context, artifact testrunanalyzerapi.Artifact) error {
		current := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			seen := atomic.LoadInt32(&maxInFlight)
			if current <= seen || atomic.CompareAndSwapInt32(&maxInFlight, seen, current) {
				break
			}
		}
		if int64(indexOf[artifact.GetName()]) > atomic.LoadInt64(&consumer)+lookAhead {
			atomic.AddInt32(&violations, 1)
		}
		time.Sleep(time.Millisecond)
		return artifact.Materialize(ctx)
	}

	reader, err := NewPrefetchingReader(materialize, WithMaxParallel(maxParallel), WithLookAhead(lookAhead))
	require.NoError(t, err)
	handles := reader.Start(context.Background(), candidates)
	for i, handle := range handles {
		atomic.StoreInt64(&consumer, int64(i))
		_, err := handle.Get(context.Background())
		require.NoError(t, err)
		if i%7 == 0 {
			time.Sleep(3 * time.Millisecond)
		}
	}

	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(maxParallel))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(1))
	assert.Equal(t, int32(0), atomic.LoadInt32(&violations))
}

func waitForStarted(t *testing.T, started *int32, expected int32) {
	t.Helper()
	err := wait.PollUntilContextTimeout(context.Background(), time.Millisecond, 5*time.Second, true, func(ctx context.Context) (bool, error) {
		return atomic.LoadInt32(started) >= expected, nil
	})
	require.NoError(t, err, "expected %d started units, got %d", expected, atomic.LoadInt32(started))
	// give the driver the chance to overshoot
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, expected, atomic.LoadInt32(started))
}

func TestPrefetchingReaderWaitsForConsumer(t *testing.T) {
	candidates, _ := newTestArtifacts(20)
	var started int32
	reader, err := NewPrefetchingReader(func(ctx context.Context, artifact testrunanalyzerapi.Artifact) error {
		atomic.AddInt32(&started, 1)
		return nil
	}, WithMaxParallel(2), WithLookAhead(4))
	require.NoError(t, err)

	handles := reader.Start(context.Background(), candidates)
	waitForStarted(t, &started, 5)

	// jumping ahead acknowledges everything before as well
	_, err = handles[6].Get(context.Background())
	require.NoError(t, err)
	waitForStarted(t, &started, 11)

	for _, handle := range handles {
		_, err := handle.Get(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(20), atomic.LoadInt32(&started))
}

func TestPrefetchingReaderSurfacesFailuresPerHandle(t *testing.T) {
	candidates, indexOf := newTestArtifacts(6)
	failuresBefore := testutil.ToFloat64(prefetchCompletedCounter.WithLabelValues(resultFailure))

	boom := errors.New("corrupt extract")
	reader, err := NewPrefetchingReader(func(ctx context.Context, artifact testrunanalyzerapi.Artifact) error {
		if indexOf[artifact.GetName()] == 2 {
			return boom
		}
		return artifact.Materialize(ctx)
	}, WithLookAhead(1))
	require.NoError(t, err)

	for i, handle := range reader.Start(context.Background(), candidates) {
		artifact, err := handle.Get(context.Background())
		if i == 2 {
			assert.True(t, errors.Is(err, boom), "expected failure of artifact 2, got %v", err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, float64(i), artifact.GetExtract().Metrics["index"])
	}
	assert.Equal(t, failuresBefore+1, testutil.ToFloat64(prefetchCompletedCounter.WithLabelValues(resultFailure)))
}

func TestPrefetchingReaderSelector(t *testing.T) {
	candidates, indexOf := newTestArtifacts(10)
	var calls int32
	reader, err := NewPrefetchingReader(func(ctx context.Context, artifact testrunanalyzerapi.Artifact) error {
		atomic.AddInt32(&calls, 1)
		return artifact.Materialize(ctx)
	}, WithSelector(func(artifact testrunanalyzerapi.Artifact) bool {
		return indexOf[artifact.GetName()]%2 == 0
	}))
	require.NoError(t, err)

	for i, handle := range reader.Start(context.Background(), candidates) {
		artifact, err := handle.Get(context.Background())
		require.NoError(t, err)
		if i%2 == 0 {
			assert.NotNil(t, artifact.GetExtract())
		} else {
			assert.Nil(t, artifact.GetExtract())
		}
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestPrefetchingReaderMaterializeTimeout(t *testing.T) {
	candidates, indexOf := newTestArtifacts(4)
	release := make(chan struct{})
	defer close(release)

	reader, err := NewPrefetchingReader(func(ctx context.Context, artifact testrunanalyzerapi.Artifact) error {
		if indexOf[artifact.GetName()] == 1 {
			// ignores ctx on purpose
			<-release
			return nil
		}
		return artifact.Materialize(ctx)
	}, WithMaterializeTimeout(20*time.Millisecond))
	require.NoError(t, err)

	for i, handle := range reader.Start(context.Background(), candidates) {
		_, err := handle.Get(context.Background())
		if i == 1 {
			assert.True(t, errors.Is(err, context.DeadlineExceeded), "expected deadline error, got %v", err)
			continue
		}
		assert.NoError(t, err)
	}
}

func TestPrefetchingReaderCancelledContext(t *testing.T) {
	candidates, _ := newTestArtifacts(5)
	var calls int32
	reader, err := NewPrefetchingReader(func(ctx context.Context, artifact testrunanalyzerapi.Artifact) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, WithMaxParallel(1), WithLookAhead(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, handle := range reader.Start(ctx, candidates) {
		_, err := handle.Get(context.Background())
		assert.True(t, errors.Is(err, context.Canceled), "expected cancellation, got %v", err)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestHandleGetHonorsCallerContext(t *testing.T) {
	candidates, _ := newTestArtifacts(1)
	release := make(chan struct{})
	reader, err := NewPrefetchingReader(func(ctx context.Context, artifact testrunanalyzerapi.Artifact) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	handles := reader.Start(context.Background(), candidates)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = handles[0].Get(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(release)
	artifact, err := handles[0].Get(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, candidates[0].GetName(), artifact.GetName())
	<-handles[0].Done()
}

func TestNewPrefetchingReaderValidation(t *testing.T) {
	tests := []struct {
		name        string
		materialize MaterializeFunc
		opts        []PrefetchOption
		expectedErr string
	}{
		{
			name:        "missing materialize function",
			expectedErr: "a materialize function is required",
		},
		{
			name:        "no parallelism",
			materialize: MaterializeArtifact,
			opts:        []PrefetchOption{WithMaxParallel(0)},
			expectedErr: "max parallel must be greater than zero, got 0",
		},
		{
			name:        "negative look ahead",
			materialize: MaterializeArtifact,
			opts:        []PrefetchOption{WithLookAhead(-1)},
			expectedErr: "look ahead must not be negative, got -1",
		},
		{
			name:        "negative timeout",
			materialize: MaterializeArtifact,
			opts:        []PrefetchOption{WithMaterializeTimeout(-time.Second)},
			expectedErr: "materialize timeout must not be negative, got -1s",
		},
		{
			name:        "zero look ahead is fine",
			materialize: MaterializeArtifact,
			opts:        []PrefetchOption{WithLookAhead(0), WithMaxParallel(1)},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPrefetchingReader(tc.materialize, tc.opts...)
			if tc.expectedErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tc.expectedErr)
		})
	}
}

func TestRegisterMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(registry))
	assert.Error(t, RegisterMetrics(registry))
}
