package metricanalyzer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/openhistogram/circonusllhist"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/anomaly"
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerapi"
)

const (
	AnalyzerName = "Metric"

	// DurationMetric is the series of test durations in milliseconds.
	DurationMetric = "duration"

	// smaller populations do not have meaningful quartiles
	minSamples = 4
)

// metricAnalyzer looks for tests whose duration or extract metrics are outliers among all
// tests of the same test case.
type metricAnalyzer struct {
	factor  float64
	metrics []string
	logger  logrus.FieldLogger

	lock sync.Mutex

	// test case -> metric -> artifact name -> value
	samples   map[string]map[string]map[string]float64
	artifacts map[string]testrunanalyzerapi.Artifact
}

// NewMetricAnalyzer checks the durations and the given extract metrics with the whisker factor.
func NewMetricAnalyzer(factor float64, metrics []string, logger logrus.FieldLogger) (testrunanalyzerapi.Analyzer, error) {
	if _, err := anomaly.NewDetector(map[string]float64{}, anomaly.WithFactor(factor)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &metricAnalyzer{
		factor:    factor,
		metrics:   sets.List(sets.New[string](metrics...).Delete(DurationMetric)),
		logger:    logger.WithField("analyzer", AnalyzerName),
		samples:   map[string]map[string]map[string]float64{},
		artifacts: map[string]testrunanalyzerapi.Artifact{},
	}, nil
}

func (a *metricAnalyzer) Name() string {
	return AnalyzerName
}

func (a *metricAnalyzer) record(testName, metric, key string, value float64) {
	byMetric, ok := a.samples[testName]
	if !ok {
		byMetric = map[string]map[string]float64{}
		a.samples[testName] = byMetric
	}
	if byMetric[metric] == nil {
		byMetric[metric] = map[string]float64{}
	}
	byMetric[metric][key] = value
}

func (a *metricAnalyzer) AnalyzeArtifact(_ context.Context, artifact testrunanalyzerapi.Artifact, _ testrunanalyzerapi.IssueSink) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	name, testName := artifact.GetName(), artifact.GetTestName()
	a.artifacts[name] = artifact
	if duration := testrunanalyzerapi.DurationOf(artifact); duration > 0 {
		a.record(testName, DurationMetric, name, float64(duration)/float64(time.Millisecond))
	}
	extract := artifact.GetExtract()
	if extract == nil {
		return nil
	}
	for _, metric := range a.metrics {
		if value, ok := extract.Metrics[metric]; ok {
			a.record(testName, metric, name, value)
		}
	}
	return nil
}

func (a *metricAnalyzer) AnalyzeRuns(ctx context.Context, runs []*testrunanalyzerapi.TestRun, sink testrunanalyzerapi.IssueSink) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	runIndex := map[string]int{}
	for i, run := range runs {
		for _, artifact := range run.Artifacts {
			runIndex[artifact.GetName()] = i
		}
	}

	testNames := make([]string, 0, len(a.samples))
	for testName := range a.samples {
		testNames = append(testNames, testName)
	}
	sort.Strings(testNames)

	for _, testName := range testNames {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, metric := range append([]string{DurationMetric}, a.metrics...) {
			population := a.samples[testName][metric]
			logger := a.logger.WithFields(logrus.Fields{"test": testName, "metric": metric, "samples": len(population)})
			if len(population) < minSamples {
				logger.Debug("Too few samples to detect anomalies")
				continue
			}
			if err := a.analyzeSeries(testName, metric, population, runIndex, sink); err != nil {
				return fmt.Errorf("failed to analyze %s of %q: %w", metric, testName, err)
			}
			logger.Debug("Analyzed metric")
		}
	}
	return nil
}

func (a *metricAnalyzer) analyzeSeries(testName, metric string, population map[string]float64, runIndex map[string]int, sink testrunanalyzerapi.IssueSink) error {
	detector, err := anomaly.NewDetector(population, anomaly.WithFactor(a.factor))
	if err != nil {
		return err
	}
	if len(detector.Anomalies()) == 0 {
		return nil
	}

	summary := detector.Summary()
	hist := circonusllhist.New()
	for _, value := range population {
		if err := hist.RecordValue(value); err != nil {
			return fmt.Errorf("failed to record value: %w", err)
		}
	}
	details := []string{
		"Median:         " + formatValue(summary.Median),
		"Whiskers:       " + formatValue(summary.LowerWhisker) + " - " + formatValue(summary.UpperWhisker),
		"Quantiles:      p50 " + formatValue(hist.ValueAtQuantile(0.5)) + ", p95 " + formatValue(hist.ValueAtQuantile(0.95)),
		fmt.Sprintf("Samples:        %d", summary.Count),
		"Drift:          " + drift(population, runIndex),
	}

	label := metric
	if metric == DurationMetric {
		label = "duration (ms)"
	}
	report := func(keys []string, direction string, severity testrunanalyzerapi.Severity) {
		for _, key := range keys {
			value, _ := detector.Value(key)
			artifact := a.artifacts[key]
			sink.AddIssue(artifact, testrunanalyzerapi.Issue{
				Analyzer:       AnalyzerName,
				Message:        fmt.Sprintf("%s of %s is unusually %s: %s", label, testName, direction, formatValue(value)),
				Classification: testrunanalyzerapi.ClassificationPerformance,
				Severity:       severity,
				Details:        append([]string{"Value:          " + formatValue(value), "Machine:        " + artifact.GetMachineName()}, details...),
			})
		}
	}
	report(detector.High(), "high", testrunanalyzerapi.SeverityWarning)
	report(detector.Low(), "low", testrunanalyzerapi.SeverityInfo)
	return nil
}

// drift fits a line through the values over the run index they were recorded in.
func drift(population map[string]float64, runIndex map[string]int) string {
	var xs, ys []float64
	for _, key := range sets.List(sets.KeySet(population)) {
		index, ok := runIndex[key]
		if !ok {
			continue
		}
		xs = append(xs, float64(index))
		ys = append(ys, population[key])
	}
	if len(xs) < 2 {
		return "-"
	}
	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		mean := stat.Mean(ys, nil)
		return fmt.Sprintf("y = 0.00*runidx %+.2f", mean)
	}
	return fmt.Sprintf("y = %.2f*runidx %+.2f", slope, intercept)
}

func formatValue(value float64) string {
	return fmt.Sprintf("%.2f", value)
}
