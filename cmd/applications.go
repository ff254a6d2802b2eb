package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lendpath/funnel/pkg/storage"
)

var applicationsCmd = &cobra.Command{
	Use:     "applications",
	Aliases: []string{"apps"},
	Short:   "Review submitted applications through the API",
}

var applicationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List applications, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		limit, _ := cmd.Flags().GetInt("limit")

		api, err := newAPIClient()
		if err != nil {
			return err
		}
		out, err := api.ListApplications(cmd.Context(), page, limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tLOAN TYPE\tAMOUNT\tAPPLICANT\tBUSINESS\tCREATED")
		for _, a := range out.Items {
			amount := "-"
			if a.RequestedAmount.Valid {
				amount = a.RequestedAmount.Decimal.StringFixed(2)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s %s <%s>\t%s\t%s\n", a.ID, a.Status, a.LoanType, amount,
				a.FirstName, a.LastName, a.Email, a.BusinessName, a.CreatedAt.Format("2006-01-02 15:04"))
		}
		w.Flush()
		fmt.Fprintf(cmd.OutOrStdout(), "page %d, %d of %d applications\n", out.Page, len(out.Items), out.Total)
		return nil
	},
}

var applicationsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print one application as JSON",
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
		a, err := api.GetApplication(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, a)
	},
}

var applicationsStatusCmd = &cobra.Command{
	Use:       "status <id> <status>",
	Short:     "Move an application to a review status",
	Args:      cobra.ExactArgs(2),
	ValidArgs: storage.ReviewStatuses,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid application id %q", args[0])
		}
		api, err := newAPIClient()
		if err != nil {
			return err
		}
		a, err := api.UpdateApplicationStatus(cmd.Context(), id, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Application %d is now %s\n", a.ID, a.Status)
		return nil
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

func init() {
	rootCmd.AddCommand(applicationsCmd)
	applicationsCmd.AddCommand(applicationsListCmd, applicationsGetCmd, applicationsStatusCmd)
	applicationsListCmd.Flags().Int("page", 1, "Page number")
	applicationsListCmd.Flags().Int("limit", 10, "Applications per page")
}
