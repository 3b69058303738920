package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// outputFormat is a pflag.Value restricted to the supported output formats.
type outputFormat string

const (
	formatText outputFormat = "text"
	formatJSON outputFormat = "json"
)

var _ pflag.Value = (*outputFormat)(nil)

func (f *outputFormat) String() string { return string(*f) }

func (f *outputFormat) Set(v string) error {
	switch outputFormat(v) {
	case formatText, formatJSON:
		*f = outputFormat(v)
		return nil
	}
	return fmt.Errorf("invalid format %q (must be text or json)", v)
}

func (f *outputFormat) Type() string { return "format" }

// addFormatFlag registers the --format flag on a command.
func addFormatFlag(cmd *cobra.Command, f *outputFormat) {
	*f = formatText
	cmd.Flags().VarP(f, "format", "f", "Output format: text or json")
}

// defaultWaitTimeout is how long billing commands wait for the market's
// asynchronous answer before giving up.
const defaultWaitTimeout = 15 * time.Second

// addTimeoutFlag registers the --timeout flag on a command.
func addTimeoutFlag(cmd *cobra.Command, d *time.Duration) {
	cmd.Flags().DurationVar(d, "timeout", defaultWaitTimeout, "How long to wait for the market's response")
}
