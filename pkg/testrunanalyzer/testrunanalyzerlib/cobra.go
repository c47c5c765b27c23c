package testrunanalyzerlib

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NoArgs rejects positional arguments, artifact locations are passed as flags.
func NoArgs(cmd *cobra.Command, args []string) error {
	for _, arg := range args {
		if len(arg) > 0 {
			return fmt.Errorf("%q does not take any arguments, got %q: use --input-dir or --gcs-bucket to name the artifacts", cmd.CommandPath(), args)
		}
	}
	return nil
}
