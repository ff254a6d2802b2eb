package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lendpath/funnel/internal/utils"
	"github.com/lendpath/funnel/pkg/client"
	"github.com/lendpath/funnel/pkg/compliance"
	"github.com/lendpath/funnel/pkg/submission"
	"github.com/lendpath/funnel/pkg/wizard"
)

// wizardSession is one CLI invocation's view of the saved application.
type wizardSession struct {
	ctrl    *wizard.Controller
	runner  *wizard.Runner
	api     *client.Client
	trigger *compliance.HTTPTrigger
	alert   wizard.Alerter
}

func stderrAlert() wizard.Alerter {
	return wizard.AlertFunc(func(msg string) {
		fmt.Fprintf(os.Stderr, "! %s\n", msg)
	})
}

func openWizard(cmd *cobra.Command) (*wizardSession, error) {
	path, err := utils.GetAbsSessionPath(flagOrConfig(cmd, "session", "session.path"))
	if err != nil {
		return nil, err
	}
	store, err := wizard.NewFileStore(path)
	if err != nil {
		return nil, err
	}
	ctrl, err := wizard.NewController(store,
		wizard.OnNavigate(func(id wizard.StepID) { utils.Log.Debugf("Moved to step %s", id) }),
	)
	if err != nil {
		return nil, err
	}

	ws := &wizardSession{ctrl: ctrl, alert: stderrAlert()}
	var trigger compliance.Trigger
	if api, err := newAPIClient(); err != nil {
		utils.Log.Debugf("API unavailable, compliance checks will not run: %v", err)
	} else {
		ws.api = api
		ws.trigger = compliance.NewHTTPTrigger(api, nil)
		trigger = ws.trigger
	}
	ws.runner = wizard.NewRunner(ctrl, trigger, ws.alert)
	return ws, nil
}

// close waits for compliance requests fired during this invocation.
func (ws *wizardSession) close() {
	if ws.trigger != nil {
		ws.trigger.Wait()
	}
}

func (ws *wizardSession) requireAPI() (*client.Client, error) {
	if ws.api == nil {
		return nil, errors.New("this action needs the funnel API (set api.base_url or --api)")
	}
	return ws.api, nil
}

// parseFieldArgs turns field=value arguments into a draft. Values that look
// like JSON arrays or objects are decoded, everything else stays a string.
func parseFieldArgs(args []string) (map[string]any, error) {
	draft, rest := utils.ParseKeyValues(args)
	if len(rest) > 0 {
		return nil, fmt.Errorf("expected field=value, got %q", rest[0])
	}
	for k, v := range draft {
		s, _ := v.(string)
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err != nil {
				return nil, fmt.Errorf("%s: invalid JSON: %w", k, err)
			}
			draft[k] = decoded
		}
	}
	return draft, nil
}

func printStep(w io.Writer, ctrl *wizard.Controller) {
	p := ctrl.Progress()
	step, _ := ctrl.Table().Step(p.Current)
	data := ctrl.FormData()

	fmt.Fprintf(w, "Step %d/%d: %s (%d%% complete)\n", p.CurrentIndex+1, p.Total, step.Label, p.Percent)
	if step.Description != "" {
		fmt.Fprintf(w, "  %s\n", step.Description)
	}
	if len(step.Prompts) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, pr := range step.Prompts {
			hint := ""
			if len(pr.Options) > 0 {
				hint = "one of: " + strings.Join(pr.Options, ", ")
			} else if pr.Kind == wizard.PromptFlag {
				hint = "true or false"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", pr.Field, pr.Label, displayValue(data[pr.Field]), hint)
		}
		tw.Flush()
	}
	if missing := ctrl.MissingFields(p.Current); len(missing) > 0 {
		fmt.Fprintf(w, "\nMissing: %s\n", strings.Join(missing, ", "))
	}
}

func printReview(w io.Writer, ctrl *wizard.Controller) {
	data := ctrl.FormData()
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(tw, "  %s\t%s\n", k, displayValue(data[k]))
	}
	tw.Flush()
}

func printProgress(w io.Writer, ctrl *wizard.Controller) {
	for _, g := range ctrl.Progress().Groups {
		fmt.Fprintf(w, "%s %s\n", checkbox(g.Completed), g.Label)
		for _, s := range g.Steps {
			marker := " "
			if s.Current {
				marker = ">"
			}
			box := checkbox(s.Completed)
			if s.Skipped {
				box = "[-]"
			}
			fmt.Fprintf(w, " %s %s %-18s %s\n", marker, box, s.ID, s.Label)
		}
	}
}

func checkbox(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}

func displayValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		if t == "" {
			return "-"
		}
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

var wizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Fill in a loan application step by step",
	Long: `Fill in a loan application step by step.

Answers are saved after every command, so an application can be resumed at any
time. Use "funnel wizard show" to see the current step and its fields.`,
}

var wizardShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current step, its fields and overall progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWizard(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printStep(out, ws.ctrl)
		if ws.ctrl.CurrentStep() == wizard.StepReview {
			fmt.Fprintln(out)
			printReview(out, ws.ctrl)
		}
		fmt.Fprintln(out)
		printProgress(out, ws.ctrl)
		return nil
	},
}

var wizardSetCmd = &cobra.Command{
	Use:   "set field=value...",
	Short: "Save answers without leaving the current step",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWizard(cmd)
		if err != nil {
			return err
		}
		draft, err := parseFieldArgs(args)
		if err != nil {
			return err
		}
		for k, v := range draft {
			if err := ws.runner.Update(k, v); err != nil {
				return err
			}
		}
		printStep(cmd.OutOrStdout(), ws.ctrl)
		return nil
	},
}

var wizardNextCmd = &cobra.Command{
	Use:   "next [field=value...]",
	Short: "Validate the current step and continue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWizard(cmd)
		if err != nil {
			return err
		}
		defer ws.close()

		draft, err := parseFieldArgs(args)
		if err != nil {
			return err
		}
		if _, err := ws.runner.Next(cmd.Context(), draft); err != nil {
			var verr *wizard.ValidationError
			if errors.As(err, &verr) {
				return fmt.Errorf("step %s is not complete", ws.ctrl.CurrentStep())
			}
			if errors.Is(err, wizard.ErrTerminalStep) {
				return errors.New(`this is the last step, run "funnel wizard submit consentAccepted=true"`)
			}
			return err
		}
		printStep(cmd.OutOrStdout(), ws.ctrl)
		return nil
	},
}

var wizardBackCmd = &cobra.Command{
	Use:   "back [field=value...]",
	Short: "Go back one step, keeping any answers given",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWizard(cmd)
		if err != nil {
			return err
		}
		draft, err := parseFieldArgs(args)
		if err != nil {
			return err
		}
		ws.runner.Back(draft)
		printStep(cmd.OutOrStdout(), ws.ctrl)
		return nil
	},
}

var wizardGotoCmd = &cobra.Command{
	Use:   "goto <step>",
	Short: "Jump to a step by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWizard(cmd)
		if err != nil {
			return err
		}
		target := wizard.StepID(args[0])
		if _, ok := ws.ctrl.Table().Step(target); !ok {
			return fmt.Errorf("%w: %s", wizard.ErrUnknownStep, target)
		}
		ws.runner.Goto(target)
		printStep(cmd.OutOrStdout(), ws.ctrl)
		return nil
	},
}

var wizardSearchCmd = &cobra.Command{
	Use:   "search <business name>",
	Short: "Search the business registry on the business-search step",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWizard(cmd)
		if err != nil {
			return err
		}
		api, err := ws.requireAPI()
		if err != nil {
			return err
		}
		query := strings.Join(args, " ")
		if err := ws.runner.Update("businessSearchQuery", query); err != nil {
			return err
		}
		matches, err := api.SearchRegistry(cmd.Context(), query)
		if err != nil {
			ws.alert.Alert(fmt.Sprintf("Business search failed: %v", err))
			return err
		}
		if len(matches) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), `No registry match. Run "funnel wizard skip" to enter your business manually.`)
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tNAME\tBUSINESS NUMBER\tJURISDICTION\tINCORPORATED")
		for i, m := range matches {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, m.LegalName, m.BusinessNumber, m.Jurisdiction, m.IncorporationDate)
		}
		tw.Flush()
		fmt.Fprintln(cmd.OutOrStdout(), `Run "funnel wizard select <#>" to confirm your business, or "funnel wizard skip".`)
		return nil
	},
}

var wizardSelectCmd = &cobra.Command{
	Use:   "select <#>",
	Short: "Confirm a registry match from the last search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWizard(cmd)
		if err != nil {
			return err
		}
		defer ws.close()
		api, err := ws.requireAPI()
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid match number %q", args[0])
		}
		query := ws.ctrl.FormData().String("businessSearchQuery")
		if query == "" {
			return errors.New(`run "funnel wizard search <business name>" first`)
		}
		matches, err := api.SearchRegistry(cmd.Context(), query)
		if err != nil {
			return err
		}
		if n > len(matches) {
			return fmt.Errorf("the last search returned %d matches", len(matches))
		}
		m := matches[n-1]
		if _, err := ws.runner.SelectRegistryMatch(cmd.Context(), query, wizard.RegistryMatch{
			LegalName:         m.LegalName,
			BusinessNumber:    m.BusinessNumber,
			IncorporationDate: m.IncorporationDate,
			Jurisdiction:      m.Jurisdiction,
		}); err != nil {
			return err
		}
		printStep(cmd.OutOrStdout(), ws.ctrl)
		return nil
	},
}

var wizardSkipCmd = &cobra.Command{
	Use:   "skip",
	Short: "Enter the business manually instead of using the registry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWizard(cmd)
		if err != nil {
			return err
		}
		defer ws.close()
		query := ws.ctrl.FormData().String("businessSearchQuery")
		if _, err := ws.runner.SkipRegistry(cmd.Context(), query); err != nil {
			return err
		}
		printStep(cmd.OutOrStdout(), ws.ctrl)
		return nil
	},
}

var wizardAddressCmd = &cobra.Command{
	Use:   "address <partial address>",
	Short: "Look up an address and optionally fill the address fields",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWizard(cmd)
		if err != nil {
			return err
		}
		api, err := ws.requireAPI()
		if err != nil {
			return err
		}
		suggestions, err := api.Autocomplete(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		pick, _ := cmd.Flags().GetInt("pick")
		if pick == 0 {
			for i, s := range suggestions {
				fmt.Fprintf(cmd.OutOrStdout(), "%d  %s\n", i+1, s.Formatted)
			}
			return nil
		}
		if pick < 1 || pick > len(suggestions) {
			return fmt.Errorf("got %d suggestions, cannot pick %d", len(suggestions), pick)
		}
		s := suggestions[pick-1]
		fields := map[string]any{"streetAddress": s.AddressLine1, "city": s.City, "province": s.Province, "postalCode": s.PostalCode}
		if ws.ctrl.CurrentStep() == wizard.StepBusinessDetails {
			fields = map[string]any{"businessAddress": s.Formatted}
		}
		if err := ws.ctrl.SaveFormData(fields); err != nil {
			return err
		}
		printStep(cmd.OutOrStdout(), ws.ctrl)
		return nil
	},
}

var wizardSubmitCmd = &cobra.Command{
	Use:   "submit [field=value...]",
	Short: "Submit the application from the final step",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWizard(cmd)
		if err != nil {
			return err
		}
		defer ws.close()

		draft, err := parseFieldArgs(args)
		if err != nil {
			return err
		}
		if len(draft) > 0 {
			if err := ws.ctrl.SaveFormData(draft); err != nil {
				return err
			}
		}

		var persist submission.Persistence
		if local, _ := cmd.Flags().GetBool("local"); local {
			db, _, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			persist = submission.StorePersistence{DB: db}
		} else {
			api, err := ws.requireAPI()
			if err != nil {
				return err
			}
			persist = api
		}

		app, err := submission.NewSubmitter(ws.ctrl, persist, ws.alert, nil).Submit(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Application #%d submitted. We will be in touch at %s.\n", app.ID, app.Email)
		return nil
	},
}

var wizardResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the saved application and start over",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWizard(cmd)
		if err != nil {
			return err
		}
		if err := ws.ctrl.Reset(); err != nil {
			return err
		}
		printStep(cmd.OutOrStdout(), ws.ctrl)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(wizardCmd)
	wizardCmd.PersistentFlags().String("session", "", "Path to the session file (default: ~/.config/funnel/session.json)")
	wizardCmd.AddCommand(wizardShowCmd, wizardSetCmd, wizardNextCmd, wizardBackCmd, wizardGotoCmd,
		wizardSearchCmd, wizardSelectCmd, wizardSkipCmd, wizardAddressCmd, wizardSubmitCmd, wizardResetCmd)

	wizardAddressCmd.Flags().Int("pick", 0, "Fill the address fields from suggestion # instead of listing")
	wizardSubmitCmd.Flags().Bool("local", false, "Write the application straight into the local database")
	wizardSubmitCmd.Flags().String("dbpath", "", "Path to SQLite DB file used with --local")
}
