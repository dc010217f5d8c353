package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixloop/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the deterministic rewrite rules in selection order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RULE\tSUMMARY")
		for _, r := range rules.All() {
			fmt.Fprintf(w, "%s\t%s\n", r.Name, r.Summary)
		}
		return w.Flush()
	},
}
