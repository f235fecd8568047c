package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/thresholds"
	"github.com/spf13/cobra"
)

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Manage KPI thresholds",
}

var thresholdsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured thresholds",
	Args:  cobra.NoArgs,
	RunE:  runThresholdsList,
}

var thresholdsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or update a threshold",
	Long: `Create or update a threshold. When --critical is below --warning the KPI is
treated as higher-is-better.`,
	Args: cobra.NoArgs,
	RunE: runThresholdsSet,
}

var thresholdsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Apply thresholds from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runThresholdsImport,
}

func init() {
	rootCmd.AddCommand(thresholdsCmd)
	thresholdsCmd.AddCommand(thresholdsListCmd, thresholdsSetCmd, thresholdsImportCmd)

	thresholdsSetCmd.Flags().StringP("kpi", "k", "", "KPI name")
	thresholdsSetCmd.Flags().String("dimension", model.DimensionGlobal, "Dimension")
	thresholdsSetCmd.Flags().String("value", "", "Dimension value")
	thresholdsSetCmd.Flags().Float64("warning", 0, "Warning level")
	thresholdsSetCmd.Flags().Float64("critical", 0, "Critical level")
	thresholdsSetCmd.Flags().String("unit", "", "Unit shown in messages")
	thresholdsSetCmd.Flags().String("description", "", "Description")
	thresholdsSetCmd.Flags().Bool("disabled", false, "Store the threshold disabled")
	_ = thresholdsSetCmd.MarkFlagRequired("kpi")
	_ = thresholdsSetCmd.MarkFlagRequired("warning")
	_ = thresholdsSetCmd.MarkFlagRequired("critical")
}

func runThresholdsList(cmd *cobra.Command, _ []string) error {
	a, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	list := a.registry.All()
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No thresholds configured.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "KPI\tSCOPE\tWARNING\tCRITICAL\tUNIT\tDIRECTION\tENABLED\n")
	for _, t := range list {
		scope := t.Dimension
		if t.DimensionValue != "" {
			scope += "/" + t.DimensionValue
		}
		direction := "higher is worse"
		if t.HigherIsBetter() {
			direction = "higher is better"
		}
		fmt.Fprintf(w, "%s\t%s\t%g\t%g\t%s\t%s\t%t\n", t.KpiName, scope, t.Low, t.High, t.Unit, direction, t.Enabled)
	}
	return w.Flush()
}

func runThresholdsSet(cmd *cobra.Command, _ []string) error {
	kpi, _ := cmd.Flags().GetString("kpi")
	dimension, _ := cmd.Flags().GetString("dimension")
	value, _ := cmd.Flags().GetString("value")
	warning, _ := cmd.Flags().GetFloat64("warning")
	critical, _ := cmd.Flags().GetFloat64("critical")
	unit, _ := cmd.Flags().GetString("unit")
	description, _ := cmd.Flags().GetString("description")
	disabled, _ := cmd.Flags().GetBool("disabled")

	a, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	t := model.Threshold{
		KpiName:        kpi,
		Dimension:      dimension,
		DimensionValue: value,
		Low:            warning,
		High:           critical,
		Unit:           unit,
		Description:    description,
		Enabled:        !disabled,
	}
	if err := a.registry.Apply(cmd.Context(), []model.Threshold{t}); err != nil {
		return fmt.Errorf("set threshold: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Threshold set:\n")
	fmt.Fprintf(out, "  KPI:       %s (%s)\n", kpi, thresholds.Label(kpi))
	fmt.Fprintf(out, "  Scope:     %s %s\n", dimension, value)
	fmt.Fprintf(out, "  Warning:   %g%s\n", warning, unit)
	fmt.Fprintf(out, "  Critical:  %g%s\n", critical, unit)
	fmt.Fprintf(out, "  Enabled:   %t\n", !disabled)
	return nil
}

func runThresholdsImport(cmd *cobra.Command, args []string) error {
	list, err := thresholds.LoadFile(args[0])
	if err != nil {
		return err
	}

	a, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.registry.Apply(cmd.Context(), list); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Applied %d threshold(s) from %s\n", len(list), args[0])
	return nil
}
