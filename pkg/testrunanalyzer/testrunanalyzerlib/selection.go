package testrunanalyzerlib

import (
	"fmt"
	"time"

	"github.com/ryanuber/go-glob"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerapi"
)

// RunSelection narrows the enumerated artifacts down to the runs and tests to analyze.
type RunSelection struct {
	// TestNames restricts the analysis to the test cases matching one of these patterns,
	// see MatchesTestName. Empty selects all.
	TestNames sets.Set[string]
	// LastNDays drops artifacts older than this many days. Zero disables the filter.
	LastNDays float64
	// RunIndex is the first run to analyze, -1 selects all runs.
	RunIndex int
	// RunCount limits the number of runs starting at RunIndex. Zero means all remaining runs.
	RunCount int
	// SkipNTests skips the first tests of every test case in each run.
	SkipNTests int
	// TestsPerRun keeps at most this many tests of every test case in each run. Zero keeps all.
	TestsPerRun int

	MaxTimeBetweenTests time.Duration
}

func NewRunSelection() RunSelection {
	return RunSelection{
		RunIndex:            -1,
		MaxTimeBetweenTests: testrunanalyzerapi.DefaultMaxTimeBetweenTests,
	}
}

func (s RunSelection) Validate() error {
	switch {
	case s.RunIndex < -1:
		return fmt.Errorf("run index must be -1 or a valid index, got %d", s.RunIndex)
	case s.RunCount < 0:
		return fmt.Errorf("run count must not be negative, got %d", s.RunCount)
	case s.SkipNTests < 0:
		return fmt.Errorf("the number of skipped tests must not be negative, got %d", s.SkipNTests)
	case s.TestsPerRun < 0:
		return fmt.Errorf("tests per run must not be negative, got %d", s.TestsPerRun)
	case s.LastNDays < 0:
		return fmt.Errorf("last n days must not be negative, got %v", s.LastNDays)
	case s.MaxTimeBetweenTests <= 0:
		return fmt.Errorf("max time between tests must be positive, got %v", s.MaxTimeBetweenTests)
	}
	return nil
}

// Select groups the artifacts into runs and applies the selection. The returned runs are
// re-indexed from zero. Runs outside of the selected positions or entirely older than
// LastNDays are dropped, runs emptied by the per test filters are kept so that missing
// tests still show up as zero counts.
func (s RunSelection) Select(now time.Time, artifacts []testrunanalyzerapi.Artifact) ([]*testrunanalyzerapi.TestRun, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	runs := testrunanalyzerapi.GroupIntoRuns(artifacts, s.MaxTimeBetweenTests)
	if len(runs) == 0 {
		return nil, nil
	}

	if s.RunIndex > len(runs)-1 {
		return nil, fmt.Errorf("test run index is too large. Allowed values are 0 - %d", len(runs)-1)
	}
	startIndex := 0
	if s.RunIndex != -1 {
		startIndex = s.RunIndex
	}
	endIndex := len(runs)
	if s.RunIndex != -1 && s.RunCount > 0 && startIndex+s.RunCount < endIndex {
		endIndex = startIndex + s.RunCount
	}

	var selected []*testrunanalyzerapi.TestRun
	for _, run := range runs[startIndex:endIndex] {
		if !s.isRecent(now, run.End()) {
			continue
		}
		var kept []testrunanalyzerapi.Artifact
		for _, testName := range run.TestNames() {
			if !MatchesTestName(s.TestNames, testName) {
				continue
			}
			for _, artifact := range s.takeTests(run.Tests(testName)) {
				if !s.isRecent(now, artifact.GetPerformedAt()) {
					continue
				}
				kept = append(kept, artifact)
			}
		}
		selected = append(selected, run.Filter(len(selected), kept))
	}
	return selected, nil
}

// MatchesTestName reports whether testName matches one of the patterns, a * matches any
// sequence of characters. No patterns match every test case.
func MatchesTestName(patterns sets.Set[string], testName string) bool {
	if patterns.Len() == 0 {
		return true
	}
	for pattern := range patterns {
		if glob.Glob(pattern, testName) {
			return true
		}
	}
	return false
}

func (s RunSelection) isRecent(now, performedAt time.Time) bool {
	return s.LastNDays == 0 || now.Sub(performedAt).Hours()/24 < s.LastNDays
}

func (s RunSelection) takeTests(tests []testrunanalyzerapi.Artifact) []testrunanalyzerapi.Artifact {
	if s.SkipNTests >= len(tests) {
		return nil
	}
	tests = tests[s.SkipNTests:]
	if s.TestsPerRun > 0 && s.TestsPerRun < len(tests) {
		tests = tests[:s.TestsPerRun]
	}
	return tests
}

// AllArtifacts flattens runs into one list ordered by time.
func AllArtifacts(runs []*testrunanalyzerapi.TestRun) []testrunanalyzerapi.Artifact {
	var ret []testrunanalyzerapi.Artifact
	for _, run := range runs {
		ret = append(ret, run.Artifacts...)
	}
	testrunanalyzerapi.SortArtifacts(ret)
	return ret
}
