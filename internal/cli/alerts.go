package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/lifecycle"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
	"github.com/spf13/cobra"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and act on alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	Long: `List alerts. --view selects one of the workflow views (pending, active,
resolved, archived); without it the status, kpi and severity filters apply.`,
	Args: cobra.NoArgs,
	RunE: runAlertsList,
}

var alertsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one alert as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsShow,
}

var alertsHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show an alert's action history",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsHistory,
}

var alertsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count alerts by status and severity",
	Args:  cobra.NoArgs,
	RunE:  runAlertsStats,
}

var alertsArchiveOldCmd = &cobra.Command{
	Use:   "archive-old",
	Short: "Archive resolved alerts older than a cutoff",
	Args:  cobra.NoArgs,
	RunE:  runAlertsArchiveOld,
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsResolve,
}

var alertsArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Archive a resolved alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, m *lifecycle.Manager, actor string) (*model.Alert, error) {
			return m.Archive(ctx, args[0], actor)
		})
	},
}

// commentTransition builds a subcommand for a transition that takes an
// optional comment.
func commentTransition(use, short string, fn func(m *lifecycle.Manager) func(ctx context.Context, id, actor, comment string) (*model.Alert, error)) *cobra.Command {
	c := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comment, _ := cmd.Flags().GetString("comment")
			return withManager(cmd, func(ctx context.Context, m *lifecycle.Manager, actor string) (*model.Alert, error) {
				return fn(m)(ctx, args[0], actor, comment)
			})
		},
	}
	c.Flags().StringP("comment", "c", "", "Comment recorded in the history")
	return c
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.PersistentFlags().String("actor", model.SystemActor, "User id performing the action")

	alertsCmd.AddCommand(alertsListCmd, alertsShowCmd, alertsHistoryCmd, alertsStatsCmd, alertsArchiveOldCmd,
		alertsResolveCmd, alertsArchiveCmd)
	alertsCmd.AddCommand(
		commentTransition("send", "Send a pending alert to the project managers", func(m *lifecycle.Manager) func(context.Context, string, string, string) (*model.Alert, error) {
			return m.SendToProjectManager
		}),
		commentTransition("ack", "Acknowledge an alert", func(m *lifecycle.Manager) func(context.Context, string, string, string) (*model.Alert, error) {
			return m.Acknowledge
		}),
		commentTransition("progress", "Mark an alert in progress", func(m *lifecycle.Manager) func(context.Context, string, string, string) (*model.Alert, error) {
			return m.MarkInProgress
		}),
		commentTransition("comment", "Add a comment to an alert", func(m *lifecycle.Manager) func(context.Context, string, string, string) (*model.Alert, error) {
			return m.AddComment
		}),
	)

	alertsListCmd.Flags().String("view", "", "Workflow view (pending, active, resolved, archived)")
	alertsListCmd.Flags().String("user", "", "Only alerts addressed to this user id")
	alertsListCmd.Flags().StringSlice("status", nil, "Filter by alert status")
	alertsListCmd.Flags().StringSlice("kpi", nil, "Filter by KPI name")
	alertsListCmd.Flags().String("severity", "", "Filter by severity")
	alertsListCmd.Flags().Int("limit", 0, "Maximum number of alerts")

	alertsStatsCmd.Flags().String("user", "", "Only alerts addressed to this user id")

	alertsArchiveOldCmd.Flags().Duration("older-than", 0, "Cutoff age (default from config)")

	alertsResolveCmd.Flags().StringP("comment", "c", "", "Resolution comment")
	alertsResolveCmd.Flags().String("actions-taken", "", "Actions taken to resolve the alert")
}

// openManager wires the services for a one-shot alert command.
func openManager(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, false)
}

func withManager(cmd *cobra.Command, fn func(ctx context.Context, m *lifecycle.Manager, actor string) (*model.Alert, error)) error {
	a, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	actor, _ := cmd.Flags().GetString("actor")
	alert, err := fn(cmd.Context(), a.manager, actor)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Alert %s is now %s\n", alert.ID, alert.AlertStatus)
	return nil
}

func runAlertsList(cmd *cobra.Command, _ []string) error {
	a, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	view, _ := cmd.Flags().GetString("view")
	user, _ := cmd.Flags().GetString("user")
	ctx := cmd.Context()

	var alerts []model.Alert
	switch view {
	case "pending":
		alerts, err = a.manager.PendingDecision(ctx)
	case "active":
		alerts, err = a.manager.Active(ctx, user)
	case "resolved":
		alerts, err = a.manager.RecentlyResolved(ctx, user)
	case "archived":
		alerts, err = a.manager.Archived(ctx, user)
	case "":
		var filter model.AlertFilter
		filter, err = listFilter(cmd)
		if err != nil {
			return err
		}
		filter.Recipient = user
		alerts, err = a.manager.Search(ctx, filter)
	default:
		return fmt.Errorf("unknown view %q", view)
	}
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}

	printAlerts(cmd.OutOrStdout(), alerts)
	return nil
}

func listFilter(cmd *cobra.Command) (model.AlertFilter, error) {
	var f model.AlertFilter
	statuses, _ := cmd.Flags().GetStringSlice("status")
	for _, s := range statuses {
		st, err := model.ParseAlertStatus(strings.ToUpper(s))
		if err != nil {
			return f, err
		}
		f.Statuses = append(f.Statuses, st)
	}
	f.KpiNames, _ = cmd.Flags().GetStringSlice("kpi")
	if sev, _ := cmd.Flags().GetString("severity"); sev != "" {
		parsed, err := model.ParseSeverity(strings.ToUpper(sev))
		if err != nil {
			return f, err
		}
		f.Severity = parsed
	}
	f.Limit, _ = cmd.Flags().GetInt("limit")
	return f, nil
}

func printAlerts(out io.Writer, alerts []model.Alert) {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "No alerts.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tKPI\tSCOPE\tSEVERITY\tSTATUS\tVALUE\tDETECTED\n")
	for _, a := range alerts {
		scope := a.Dimension
		if a.DimensionValue != "" {
			scope += "/" + a.DimensionValue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
			a.ID, a.KpiName, scope, a.Severity, a.AlertStatus, a.CurrentValue,
			a.DetectedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()
}

func runAlertsShow(cmd *cobra.Command, args []string) error {
	a, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	alert, err := a.manager.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(alert)
}

func runAlertsHistory(cmd *cobra.Command, args []string) error {
	a, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	history, err := a.manager.History(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "SEQ\tWHEN\tACTION\tBY\tFROM\tTO\tCOMMENT\n")
	for _, h := range history {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			h.Seq, h.PerformedAt.Format("2006-01-02 15:04"), h.Type, h.ActorName,
			h.PreviousStatus, h.NewStatus, h.Comment,
		)
	}
	return w.Flush()
}

func runAlertsStats(cmd *cobra.Command, _ []string) error {
	a, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	user, _ := cmd.Flags().GetString("user")
	stats, err := a.manager.Statistics(cmd.Context(), user)
	if err != nil {
		return fmt.Errorf("alert statistics: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total alerts: %d\n", stats.Total)

	fmt.Fprintf(out, "\nBy Status:\n")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, st := range model.AllStatuses() {
		fmt.Fprintf(w, "  %s\t%d\n", st, stats.ByStatus[st])
	}
	w.Flush()

	fmt.Fprintf(out, "\nBy Severity:\n")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, sev := range []model.Severity{model.SeverityLow, model.SeverityMedium, model.SeverityHigh, model.SeverityCritical} {
		fmt.Fprintf(w, "  %s\t%d\n", sev, stats.BySeverity[sev])
	}
	return w.Flush()
}

func runAlertsResolve(cmd *cobra.Command, args []string) error {
	comment, _ := cmd.Flags().GetString("comment")
	actions, _ := cmd.Flags().GetString("actions-taken")
	return withManager(cmd, func(ctx context.Context, m *lifecycle.Manager, actor string) (*model.Alert, error) {
		return m.Resolve(ctx, args[0], actor, lifecycle.Resolution{Comment: comment, ActionsTaken: actions})
	})
}

func runAlertsArchiveOld(cmd *cobra.Command, _ []string) error {
	a, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan <= 0 {
		olderThan = a.cfg.Lifecycle.ArchiveAfter
	}

	n, err := a.manager.AutoArchiveOld(cmd.Context(), olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Archived %d alert(s) resolved more than %s ago\n", n, olderThan.Round(time.Hour))
	return nil
}
