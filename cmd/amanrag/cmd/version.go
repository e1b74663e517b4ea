package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print the version, git commit, build date and Go version.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printVersion(cmd.OutOrStdout(), format)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "Output format: text, short, json")

	return cmd
}

func printVersion(w io.Writer, format string) error {
	switch format {
	case "short":
		_, err := fmt.Fprintln(w, version.Short())
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(version.GetInfo())
	case "text", "":
		_, err := fmt.Fprintln(w, version.String())
		return err
	default:
		return fmt.Errorf("unknown output format %q (text, short, json)", format)
	}
}
