package testrunanalyzeranalyzer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"github.com/openshift/testrun-analyzer/pkg/results"
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/anomaly"
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/metricanalyzer"
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testcountanalyzer"
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerapi"
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerlib"
)

type TestRunAnalyzerFlags struct {
	DataCoordinates *testrunanalyzerlib.BigQueryDataCoordinates
	Authentication  *testrunanalyzerlib.GoogleAuthenticationFlags

	InputDir  string
	GCSBucket string
	GCSPrefix string
	Recursive bool

	TestNames           []string
	LastNDays           float64
	RunIndex            int
	RunCount            int
	SkipNTests          int
	TestsPerRun         int
	MaxTimeBetweenTests time.Duration

	AnomalyFactor float64
	Metrics       []string

	MaxParallel            int
	LookAhead              int
	MaterializeTimeout     time.Duration
	FailOnMaterializeError bool
	NamesOnly              bool

	OutputFormat string
	OutputFile   string
	MetricsFile  string
	DryRun       bool
}

func NewTestRunAnalyzerFlags() *TestRunAnalyzerFlags {
	return &TestRunAnalyzerFlags{
		DataCoordinates: testrunanalyzerlib.NewBigQueryDataCoordinates(),
		Authentication:  testrunanalyzerlib.NewGoogleAuthenticationFlags(),

		RunIndex:            -1,
		MaxTimeBetweenTests: testrunanalyzerapi.DefaultMaxTimeBetweenTests,
		AnomalyFactor:       anomaly.DefaultFactor,
		MaxParallel:         testrunanalyzerlib.DefaultMaxParallel,
		LookAhead:           testrunanalyzerlib.DefaultLookAhead,
		OutputFormat:        outputFormatTable,
	}
}

func (f *TestRunAnalyzerFlags) BindFlags(fs *pflag.FlagSet) {
	f.DataCoordinates.BindFlags(fs)
	f.Authentication.BindFlags(fs)

	fs.StringVar(&f.InputDir, "input-dir", f.InputDir, "Directory (or single file) holding the extracted test artifacts.")
	fs.StringVar(&f.GCSBucket, "gcs-bucket", f.GCSBucket, "GCS bucket holding the extracted test artifacts, mutually exclusive to --input-dir.")
	fs.StringVar(&f.GCSPrefix, "gcs-prefix", f.GCSPrefix, "Only objects below this prefix of --gcs-bucket are analyzed.")
	fs.BoolVar(&f.Recursive, "recursive", f.Recursive, "Also read artifacts from subdirectories.")

	fs.StringSliceVar(&f.TestNames, "test-name", f.TestNames, "Only analyze the test cases matching this name, * matches any characters. Can be passed multiple times, all test cases are analyzed by default.")
	fs.Float64Var(&f.LastNDays, "last-n-days", f.LastNDays, "Only analyze tests performed in the last N days, 0 disables the filter.")
	fs.IntVar(&f.RunIndex, "run-index", f.RunIndex, "Index of the first run to analyze, -1 analyzes all runs.")
	fs.IntVar(&f.RunCount, "run-count", f.RunCount, "Number of runs to analyze starting at --run-index, 0 analyzes all remaining runs.")
	fs.IntVar(&f.SkipNTests, "skip-n-tests", f.SkipNTests, "Skip the first N tests of every test case in each run.")
	fs.IntVar(&f.TestsPerRun, "tests-per-run", f.TestsPerRun, "Analyze at most N tests of every test case in each run, 0 analyzes all.")
	fs.DurationVar(&f.MaxTimeBetweenTests, "max-time-between-tests", f.MaxTimeBetweenTests, "A gap between two tests larger than this starts a new run.")

	fs.Float64Var(&f.AnomalyFactor, "anomaly-factor", f.AnomalyFactor, "Multiple of the interquartile distance beyond which values are reported as anomalies.")
	fs.StringSliceVar(&f.Metrics, "metric", f.Metrics, "Extract metric to check for anomalies in addition to the test duration. Can be passed multiple times.")

	fs.IntVar(&f.MaxParallel, "max-parallel", f.MaxParallel, "Maximum number of artifacts loaded at the same time.")
	fs.IntVar(&f.LookAhead, "look-ahead", f.LookAhead, "Maximum number of artifacts loaded ahead of the analysis.")
	fs.DurationVar(&f.MaterializeTimeout, "materialize-timeout", f.MaterializeTimeout, "Give up loading a single artifact after this time, 0 waits forever.")
	fs.BoolVar(&f.FailOnMaterializeError, "fail-on-materialize-error", f.FailOnMaterializeError, "Abort when an artifact cannot be loaded instead of reporting it and continuing.")
	fs.BoolVar(&f.NamesOnly, "names-only", f.NamesOnly, "Do not load the payload of artifacts whose name carries the test name, duration and time.")

	fs.StringVar(&f.OutputFormat, "output-format", f.OutputFormat, fmt.Sprintf("Format of the analysis results, one of %v.", sets.List(knownOutputFormats)))
	fs.StringVar(&f.OutputFile, "output-file", f.OutputFile, "Write the analysis results to this file instead of stdout.")
	fs.StringVar(&f.MetricsFile, "metrics-file", f.MetricsFile, "Write the prometheus metrics of the run to this file in the textfile format.")
	fs.BoolVar(&f.DryRun, "dry-run", f.DryRun, "Print the rows that would be inserted into BigQuery instead of inserting them.")
}

func NewTestRunAnalyzerCommand() *cobra.Command {
	f := NewTestRunAnalyzerFlags()

	cmd := &cobra.Command{
		Use:          "analyze",
		Long:         `Read the extracted artifacts of automated test runs, group them into runs and report test count trends and anomalous durations or metrics.`,
		SilenceUsage: true,

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if err := f.Validate(); err != nil {
				logrus.WithError(err).Fatal("Flags are invalid")
			}
			o, err := f.ToOptions(ctx)
			if err != nil {
				logrus.WithError(err).Fatal("Failed to build runtime options")
			}

			if err := o.Run(ctx); err != nil {
				logrus.WithError(err).WithField("reason", results.FullReason(err)).Fatal("Command failed")
			}

			return nil
		},

		Args: testrunanalyzerlib.NoArgs,
	}

	f.BindFlags(cmd.Flags())

	return cmd
}

func (f *TestRunAnalyzerFlags) selection() testrunanalyzerlib.RunSelection {
	selection := testrunanalyzerlib.NewRunSelection()
	selection.TestNames = sets.New[string](f.TestNames...)
	selection.LastNDays = f.LastNDays
	selection.RunIndex = f.RunIndex
	selection.RunCount = f.RunCount
	selection.SkipNTests = f.SkipNTests
	selection.TestsPerRun = f.TestsPerRun
	selection.MaxTimeBetweenTests = f.MaxTimeBetweenTests
	return selection
}

func (f *TestRunAnalyzerFlags) needsGoogleCredentials() bool {
	return len(f.GCSBucket) > 0 || (f.DataCoordinates.Enabled() && !f.DryRun)
}

// Validate checks to see if the user-input is likely to produce functional runtime options
func (f *TestRunAnalyzerFlags) Validate() error {
	var errs []error
	switch {
	case len(f.InputDir) > 0 && len(f.GCSBucket) > 0:
		errs = append(errs, fmt.Errorf("cannot specify both --input-dir and --gcs-bucket"))
	case len(f.InputDir) == 0 && len(f.GCSBucket) == 0:
		errs = append(errs, fmt.Errorf("exactly one of --input-dir or --gcs-bucket must be specified"))
	}
	if len(f.GCSPrefix) > 0 && len(f.GCSBucket) == 0 {
		errs = append(errs, fmt.Errorf("--gcs-prefix requires --gcs-bucket"))
	}
	if err := f.selection().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := anomaly.NewDetector(map[string]float64{}, anomaly.WithFactor(f.AnomalyFactor)); err != nil {
		errs = append(errs, fmt.Errorf("invalid --anomaly-factor: %w", err))
	}
	if f.MaxParallel <= 0 {
		errs = append(errs, fmt.Errorf("--max-parallel must be greater than zero"))
	}
	if f.LookAhead < 0 {
		errs = append(errs, fmt.Errorf("--look-ahead must not be negative"))
	}
	if f.MaterializeTimeout < 0 {
		errs = append(errs, fmt.Errorf("--materialize-timeout must not be negative"))
	}
	if f.NamesOnly && len(f.Metrics) > 0 {
		errs = append(errs, fmt.Errorf("--names-only cannot be combined with --metric"))
	}
	if !knownOutputFormats.Has(f.OutputFormat) {
		errs = append(errs, fmt.Errorf("unknown --output-format %s, valid values are: %+q", f.OutputFormat, sets.List(knownOutputFormats)))
	}
	if err := f.DataCoordinates.Validate(); err != nil {
		errs = append(errs, err)
	}
	if f.needsGoogleCredentials() {
		if err := f.Authentication.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// ToOptions goes from the user input to the runtime values need to run the command.
// Expect to see unit tests on the options, but not on the flags which are simply value mappings.
func (f *TestRunAnalyzerFlags) ToOptions(ctx context.Context) (*TestRunAnalyzerOptions, error) {
	logger := logrus.WithField("command", "analyze")

	var enumerator testrunanalyzerlib.CandidateEnumerator
	if len(f.InputDir) > 0 {
		enumerator = testrunanalyzerlib.NewFilesystemEnumerator(afero.NewOsFs(), f.InputDir, f.Recursive)
	} else {
		gcsClient, err := f.Authentication.NewGCSClient(ctx)
		if err != nil {
			return nil, results.ForReason(results.ReasonLoadingArgs).WithError(err).Errorf("failed to create GCS client: %v", err)
		}
		bucket := testrunanalyzerlib.WithReadRetries(gcsClient.Bucket(f.GCSBucket), testrunanalyzerlib.DefaultGCSBackoff)
		enumerator = testrunanalyzerlib.NewGCSEnumerator(bucket, f.GCSPrefix, f.Recursive)
	}

	metricAnalyzer, err := metricanalyzer.NewMetricAnalyzer(f.AnomalyFactor, f.Metrics, logger)
	if err != nil {
		return nil, results.ForReason(results.ReasonLoadingArgs).ForError(err)
	}

	var issueInserter testrunanalyzerlib.BigQueryInserter
	if f.DataCoordinates.Enabled() {
		if f.DryRun {
			issueInserter = testrunanalyzerlib.NewDryRunInserter(os.Stdout, f.DataCoordinates.String())
		} else {
			bigQueryClient, err := f.Authentication.NewBigQueryClient(ctx, f.DataCoordinates.ProjectID)
			if err != nil {
				return nil, results.ForReason(results.ReasonLoadingArgs).WithError(err).Errorf("failed to create BigQuery client: %v", err)
			}
			issueTable := bigQueryClient.Dataset(f.DataCoordinates.DataSetID).Table(f.DataCoordinates.TableName)
			if err := testrunanalyzerlib.EnsureIssuesTable(ctx, issueTable); err != nil {
				return nil, results.ForReason(results.ReasonLoadingArgs).ForError(err)
			}
			issueInserter = issueTable.Inserter()
		}
	}

	readerOptions := []testrunanalyzerlib.PrefetchOption{
		testrunanalyzerlib.WithMaxParallel(f.MaxParallel),
		testrunanalyzerlib.WithLookAhead(f.LookAhead),
		testrunanalyzerlib.WithMaterializeTimeout(f.MaterializeTimeout),
		testrunanalyzerlib.WithLogger(logger),
	}
	if f.NamesOnly {
		readerOptions = append(readerOptions, testrunanalyzerlib.WithSelector(needsPayload))
	}

	registry := prometheus.NewRegistry()
	if err := testrunanalyzerlib.RegisterMetrics(registry); err != nil {
		return nil, results.ForReason(results.ReasonLoadingArgs).ForError(err)
	}

	return &TestRunAnalyzerOptions{
		enumerator: enumerator,
		selection:  f.selection(),
		analyzers: []testrunanalyzerapi.Analyzer{
			testcountanalyzer.NewTestCountAnalyzer(sets.New[string](f.TestNames...), logger),
			metricAnalyzer,
		},
		readerOptions:          readerOptions,
		failOnMaterializeError: f.FailOnMaterializeError,
		clock:                  clock.RealClock{},
		analysisID:             uuid.NewV4().String(),

		fs:            afero.NewOsFs(),
		stdout:        os.Stdout,
		outputFormat:  f.OutputFormat,
		outputFile:    f.OutputFile,
		issueInserter: issueInserter,
		metricsFile:   f.MetricsFile,
		gatherer:      registry,
		logger:        logger,
	}, nil
}
