package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixloop/internal/report"
	"github.com/lucasnoah/fixloop/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a Python file's syntax and flag dangerous patterns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		code, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		rep := validate.ValidateContext(cmd.Context(), string(code))
		if err := report.Print(cmd.OutOrStdout(), rep, format); err != nil {
			return err
		}
		if !rep.Passed {
			return errors.New("validation failed")
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringP("output", "o", "human", "output format: human, json or yaml")
}
