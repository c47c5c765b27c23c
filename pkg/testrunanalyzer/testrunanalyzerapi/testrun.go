package testrunanalyzerapi

import (
	"fmt"
	"sort"
	"time"
)

// DefaultMaxTimeBetweenTests splits runs: consecutive artifacts further apart than this belong to different runs.
const DefaultMaxTimeBetweenTests = time.Hour

// TestRun is a batch of artifacts produced together, e.g. by one CI build.
type TestRun struct {
	Index int
	// Artifacts are sorted ascending by time.
	Artifacts []Artifact

	byTest map[string][]Artifact
	// window is the time span of the run the artifacts were taken from, set for runs
	// narrowed down by Filter.
	window *[2]time.Time
}

func NewTestRun(index int, artifacts []Artifact) *TestRun {
	sorted := append([]Artifact{}, artifacts...)
	SortArtifacts(sorted)

	byTest := map[string][]Artifact{}
	for _, artifact := range sorted {
		byTest[artifact.GetTestName()] = append(byTest[artifact.GetTestName()], artifact)
	}
	return &TestRun{
		Index:     index,
		Artifacts: sorted,
		byTest:    byTest,
	}
}

// GroupIntoRuns sorts the artifacts and starts a new run whenever the gap between
// consecutive artifacts is larger than maxGap.
func GroupIntoRuns(artifacts []Artifact, maxGap time.Duration) []*TestRun {
	sorted := append([]Artifact{}, artifacts...)
	SortArtifacts(sorted)

	var runs []*TestRun
	var current []Artifact
	for i, artifact := range sorted {
		if i > 0 && artifact.GetPerformedAt().Sub(sorted[i-1].GetPerformedAt()) > maxGap {
			runs = append(runs, NewTestRun(len(runs), current))
			current = nil
		}
		current = append(current, artifact)
	}
	if len(current) > 0 {
		runs = append(runs, NewTestRun(len(runs), current))
	}
	return runs
}

func (r *TestRun) GetName() string {
	return fmt.Sprintf("run-%d-%s", r.Index, r.Start().UTC().Format(artifactTimeLayout))
}

func (r *TestRun) GetPerformedAt() time.Time {
	return r.Start()
}

// Filter returns a run holding only the given artifacts. An emptied run keeps the time span
// of r so that it still marks a run without tests of the filtered test cases.
func (r *TestRun) Filter(index int, artifacts []Artifact) *TestRun {
	filtered := NewTestRun(index, artifacts)
	if len(filtered.Artifacts) == 0 {
		filtered.window = &[2]time.Time{r.Start(), r.End()}
	}
	return filtered
}

func (r *TestRun) Start() time.Time {
	if len(r.Artifacts) == 0 {
		if r.window != nil {
			return r.window[0]
		}
		return time.Time{}
	}
	return r.Artifacts[0].GetPerformedAt()
}

func (r *TestRun) End() time.Time {
	if len(r.Artifacts) == 0 {
		if r.window != nil {
			return r.window[1]
		}
		return time.Time{}
	}
	return r.Artifacts[len(r.Artifacts)-1].GetPerformedAt()
}

func (r *TestRun) Duration() time.Duration {
	return r.End().Sub(r.Start())
}

// TestNames returns the names of all test cases in this run, sorted.
func (r *TestRun) TestNames() []string {
	ret := make([]string, 0, len(r.byTest))
	for name := range r.byTest {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// Tests returns the artifacts of one test case in time order.
func (r *TestRun) Tests(testName string) []Artifact {
	return r.byTest[testName]
}

func (r *TestRun) Count(testName string) int {
	return len(r.byTest[testName])
}

func (r *TestRun) String() string {
	return fmt.Sprintf("Files: %d, Run Start: %v Duration: %v, Tests: %v", len(r.Artifacts), r.Start(), r.Duration(), r.TestNames())
}
