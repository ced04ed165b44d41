package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrapeworks/sift/internal/persist"
)

// newExportCmd creates the 'export' subcommand, which converts the JSONL
// record log into a JSON array or CSV file.
func newExportCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export <output>",
		Short: "Converts the record log to JSON or CSV",
		Long: `Reads the JSONL record log produced by 'run' and converts it to either a
single JSON array or a CSV file with dynamic headers. The input path comes
from the output.path configuration key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			input, output := a.cfg.Output.Path, args[0]

			switch format {
			case "json":
				err = persist.ConvertToJSON(input, output)
			case "csv":
				err = persist.ConvertToCSV(input, output)
			default:
				return fmt.Errorf("unsupported format %q (want json or csv)", format)
			}
			if err != nil {
				return fmt.Errorf("export records: %w", err)
			}

			a.logger.Info("export complete",
				zap.String("input", input),
				zap.String("output", output),
				zap.String("format", format),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or csv")
	return cmd
}
