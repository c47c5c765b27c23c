package testrunanalyzerlib

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerapi"
)

const (
	DefaultMaxParallel = 4
	DefaultLookAhead   = 10
)

// MaterializeFunc forces the payload of one artifact to load.
type MaterializeFunc func(ctx context.Context, artifact testrunanalyzerapi.Artifact) error

// SelectorFunc decides whether an artifact is materialized at all.
type SelectorFunc func(artifact testrunanalyzerapi.Artifact) bool

// MaterializeArtifact is the MaterializeFunc loading the extract of the artifact itself.
func MaterializeArtifact(ctx context.Context, artifact testrunanalyzerapi.Artifact) error {
	return artifact.Materialize(ctx)
}

// PrefetchingReader turns a set of artifacts into an ordered sequence of handles whose
// payloads are materialized in the background. At most maxParallel artifacts are
// materialized at a time and the reader never runs more than lookAhead items ahead of the
// highest index the consumer has asked for.
type PrefetchingReader struct {
	materialize MaterializeFunc
	selector    SelectorFunc
	maxParallel int
	lookAhead   int
	timeout     time.Duration
	logger      logrus.FieldLogger
}

type PrefetchOption func(*PrefetchingReader)

func WithMaxParallel(maxParallel int) PrefetchOption {
	return func(r *PrefetchingReader) {
		r.maxParallel = maxParallel
	}
}

func WithLookAhead(lookAhead int) PrefetchOption {
	return func(r *PrefetchingReader) {
		r.lookAhead = lookAhead
	}
}

func WithSelector(selector SelectorFunc) PrefetchOption {
	return func(r *PrefetchingReader) {
		r.selector = selector
	}
}

// WithMaterializeTimeout bounds the time of a single materialization. Zero disables the deadline.
func WithMaterializeTimeout(timeout time.Duration) PrefetchOption {
	return func(r *PrefetchingReader) {
		r.timeout = timeout
	}
}

func WithLogger(logger logrus.FieldLogger) PrefetchOption {
	return func(r *PrefetchingReader) {
		r.logger = logger
	}
}

func NewPrefetchingReader(materialize MaterializeFunc, opts ...PrefetchOption) (*PrefetchingReader, error) {
	r := &PrefetchingReader{
		materialize: materialize,
		maxParallel: DefaultMaxParallel,
		lookAhead:   DefaultLookAhead,
		logger:      logrus.WithField("component", "prefetching-reader"),
	}
	for _, opt := range opts {
		opt(r)
	}

	switch {
	case r.materialize == nil:
		return nil, fmt.Errorf("a materialize function is required")
	case r.maxParallel <= 0:
		return nil, fmt.Errorf("max parallel must be greater than zero, got %d", r.maxParallel)
	case r.lookAhead < 0:
		return nil, fmt.Errorf("look ahead must not be negative, got %d", r.lookAhead)
	case r.timeout < 0:
		return nil, fmt.Errorf("materialize timeout must not be negative, got %v", r.timeout)
	}
	return r, nil
}

// Handle resolves to one artifact of the sequence once its materialization finished.
type Handle struct {
	index    int
	artifact testrunanalyzerapi.Artifact
	session  *prefetchSession

	done chan struct{}
	err  error
}

func (h *Handle) Index() int {
	return h.index
}

// Artifact returns the artifact without waiting for its payload.
func (h *Handle) Artifact() testrunanalyzerapi.Artifact {
	return h.artifact
}

// Done is closed once the handle is resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Get marks the handle as consumed, which lets the reader schedule further work, and waits
// until the artifact was materialized. A materialization failure is returned here and only here.
func (h *Handle) Get(ctx context.Context) (testrunanalyzerapi.Artifact, error) {
	h.session.acknowledge(h.index)
	select {
	case <-h.done:
		return h.artifact, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) resolve(err error) {
	h.err = err
	close(h.done)
}

// prefetchSession holds the consumer feedback of one Start call.
type prefetchSession struct {
	lock         sync.Mutex
	acknowledged int
	ackChanged   chan struct{}
}

func (s *prefetchSession) acknowledge(index int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if index <= s.acknowledged {
		return
	}
	s.acknowledged = index
	select {
	case s.ackChanged <- struct{}{}:
	default:
	}
}

func (s *prefetchSession) waitForBudget(ctx context.Context, index, lookAhead int) error {
	for {
		s.lock.Lock()
		acknowledged := s.acknowledged
		s.lock.Unlock()
		if index <= acknowledged+lookAhead {
			return nil
		}
		select {
		case <-s.ackChanged:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Start sorts the candidates ascending by time and returns one handle per candidate in that
// order. Materialization runs in the background until all handles are resolved or ctx is done.
func (r *PrefetchingReader) Start(ctx context.Context, candidates []testrunanalyzerapi.Artifact) []*Handle {
	ordered := append([]testrunanalyzerapi.Artifact{}, candidates...)
	testrunanalyzerapi.SortArtifacts(ordered)

	session := &prefetchSession{ackChanged: make(chan struct{}, 1)}
	handles := make([]*Handle, len(ordered))
	for i, artifact := range ordered {
		handles[i] = &Handle{
			index:    i,
			artifact: artifact,
			session:  session,
			done:     make(chan struct{}),
		}
	}

	go r.drive(ctx, session, handles)
	return handles
}

func (r *PrefetchingReader) drive(ctx context.Context, session *prefetchSession, handles []*Handle) {
	inFlight := semaphore.NewWeighted(int64(r.maxParallel))
	for i, handle := range handles {
		if err := ctx.Err(); err != nil {
			r.abandon(handles[i:], err)
			return
		}
		if r.selector != nil && !r.selector(handle.artifact) {
			prefetchCompletedCounter.WithLabelValues(resultSkipped).Inc()
			handle.resolve(nil)
			continue
		}

		if err := session.waitForBudget(ctx, i, r.lookAhead); err != nil {
			r.abandon(handles[i:], err)
			return
		}
		if err := inFlight.Acquire(ctx, 1); err != nil {
			r.abandon(handles[i:], err)
			return
		}

		prefetchInFlightGauge.Inc()
		go func(handle *Handle) {
			defer inFlight.Release(1)
			defer prefetchInFlightGauge.Dec()
			r.materializeOne(ctx, handle)
		}(handle)
	}
}

func (r *PrefetchingReader) materializeOne(ctx context.Context, handle *Handle) {
	unitCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.timeout > 0 {
		unitCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	start := time.Now()
	result := make(chan error, 1)
	go func() {
		result <- r.materialize(unitCtx, handle.artifact)
	}()

	var err error
	select {
	case err = <-result:
	case <-unitCtx.Done():
		err = fmt.Errorf("materializing %q did not finish: %w", handle.artifact.GetName(), unitCtx.Err())
		// resolve now, but keep the slot until the unit really returns
		r.record(handle, err, start)
		handle.resolve(err)
		<-result
		return
	}
	r.record(handle, err, start)
	handle.resolve(err)
}

func (r *PrefetchingReader) record(handle *Handle, err error, start time.Time) {
	prefetchDurationHistogram.Observe(time.Since(start).Seconds())
	if err != nil {
		prefetchCompletedCounter.WithLabelValues(resultFailure).Inc()
		r.logger.WithError(err).WithField("artifact", handle.artifact.GetName()).Debug("Failed to materialize artifact")
		return
	}
	prefetchCompletedCounter.WithLabelValues(resultSuccess).Inc()
}

// abandon resolves handles that will never be scheduled.
func (r *PrefetchingReader) abandon(handles []*Handle, err error) {
	r.logger.WithError(err).WithField("remaining", len(handles)).Debug("Stopped prefetching")
	for _, handle := range handles {
		handle.resolve(fmt.Errorf("materializing %q was not started: %w", handle.artifact.GetName(), err))
	}
}
