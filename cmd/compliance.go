package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lendpath/funnel/pkg/compliance"
)

var complianceCmd = &cobra.Command{
	Use:   "compliance",
	Short: "Inspect and run compliance checks",
}

var complianceListCmd = &cobra.Command{
	Use:   "list <application id>",
	Short: "List the compliance checks attached to an application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid application id %q", args[0])
		}
		api, err := newAPIClient()
		if err != nil {
			return err
		}
		checks, err := api.ListComplianceChecks(cmd.Context(), id)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tSUBJECT\tRISK\tERROR")
		for _, c := range checks {
			risk := "-"
			if c.RiskScore != nil {
				risk = strconv.FormatFloat(*c.RiskScore, 'f', 1, 64)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.CheckType, c.Status, c.Subject, risk, c.ErrorMessage)
		}
		return w.Flush()
	},
}

var complianceGetCmd = &cobra.Command{
	Use:   "get <check id>",
	Short: "Print one compliance check as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPIClient()
		if err != nil {
			return err
		}
		check, err := api.GetComplianceCheck(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, check)
	},
}

var complianceRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a comprehensive check locally and print the report",
	Long: `Run a comprehensive check locally and print the report.

The check uses the enrichment credentials of this machine's configuration and
does not record anything in the database.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		site, _ := cmd.Flags().GetString("website")
		name, _ := cmd.Flags().GetString("name")
		if site == "" {
			return errors.New("please provide the business website (--website)")
		}
		e := buildEnrichment()
		checker := &compliance.Comprehensive{Website: e.Website, News: e.News, AI: e.AI}
		report, err := checker.Check(cmd.Context(), compliance.Request{BusinessWebsite: site, BusinessName: name})
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

func init() {
	rootCmd.AddCommand(complianceCmd)
	complianceCmd.AddCommand(complianceListCmd, complianceGetCmd, complianceRunCmd)
	complianceRunCmd.Flags().String("website", "", "Business website or domain")
	complianceRunCmd.Flags().String("name", "", "Business name used for the news search")
}
