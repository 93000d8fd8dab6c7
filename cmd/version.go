package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/dealbook/config"
	"github.com/otherjamesbrown/dealbook/pkg/buildinfo"
)

// NewVersionCommand creates the version command. It needs no config.
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the version, commit hash, and build time of dealbook.

Examples:
  dealbook version
  dealbook version --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format := ""
			if f := cmd.Flag("output"); f != nil {
				format = f.Value.String()
			}
			info := buildinfo.Get("dealbook")
			return render(cmd.OutOrStdout(), config.OutputFormat(format), info, func(w io.Writer) error {
				fmt.Fprintf(w, "dealbook version %s\n", info.Version)
				fmt.Fprintf(w, "  commit:     %s\n", info.Commit)
				fmt.Fprintf(w, "  built:      %s\n", info.BuildTime)
				fmt.Fprintf(w, "  go:         %s\n", info.GoVersion)
				return nil
			})
		},
	}
	return cmd
}
