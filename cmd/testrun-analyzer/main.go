// The purpose of this tool is to read the artifacts of automated test runs
// and report test cases whose test count or duration changed unexpectedly.
package main

import (
	goflag "flag"
	"os"

	"github.com/spf13/pflag"

	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer"
)

func main() {
	cmd := testrunanalyzer.NewTestRunAnalyzerCommand()
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
