package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lendpath/funnel/pkg/storage"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints application and compliance check counts from the API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPIClient()
		if err != nil {
			return err
		}
		stats, err := api.Stats(cmd.Context())
		if err != nil {
			return err
		}
		printStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

func printStats(out io.Writer, stats *storage.Stats) {
	if len(stats.Applications) == 0 && len(stats.ComplianceChecks) == 0 {
		fmt.Fprintln(out, "No data in the database to generate stats.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)
	printCounts(w, "APPLICATIONS", stats.Applications)
	fmt.Fprintln(w, " \t \t")
	printCounts(w, "COMPLIANCE CHECKS", stats.ComplianceChecks)
	w.Flush()

	if stats.AverageRiskScore != nil {
		fmt.Fprintf(out, "\nAverage risk score of completed checks: %.1f\n", *stats.AverageRiskScore)
	}
}

func printCounts(w io.Writer, title string, counts []storage.StatusCount) {
	fmt.Fprintf(w, "%s\tCOUNT\t\n", title)
	total := 0
	for _, c := range counts {
		fmt.Fprintf(w, "%s\t%d\t\n", c.Status, c.Count)
		total += c.Count
	}
	fmt.Fprintf(w, "TOTAL\t%d\t\n", total)
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
