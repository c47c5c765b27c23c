package testrunanalyzer

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzeranalyzer"
)

// Overall usage
// 1. an automated test suite writes one extract per executed test, named
//    TestCase_<duration>ms<Machine>.<yyyyMMdd-HHmmss>.json, into a directory or a GCS bucket
// 2. artifacts written close to each other in time form a test run
// 3. the selected runs are read in time order, payloads are prefetched in the background
// 4. every test case is checked for lasting changes of its test count and for outlier
//    durations or metrics
// 5. the findings are printed and optionally uploaded to BigQuery

func NewTestRunAnalyzerCommand() *cobra.Command {
	logLevel := logrus.InfoLevel.String()

	cmd := &cobra.Command{
		Use:  "testrun-analyzer",
		Long: `Commands associated with the analysis of automated test run artifacts`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			logrus.SetLevel(level)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "Level of the log output, one of panic, fatal, error, warning, info, debug or trace.")

	cmd.AddCommand(testrunanalyzeranalyzer.NewTestRunAnalyzerCommand())

	return cmd
}
