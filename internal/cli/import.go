package cli

import (
	"fmt"
	"os"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load users and invoices from a YAML file",
	Long: `Load users and invoices from a YAML file with top-level "users" and
"invoices" lists. Existing records with the same id are replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

type fixtureFile struct {
	Users    []model.User    `yaml:"users"`
	Invoices []model.Invoice `yaml:"invoices"`
}

func parseFixture(data []byte) (*fixtureFile, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	for i, u := range f.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("user %d: missing id", i+1)
		}
		for _, r := range u.Roles {
			if !r.Valid() {
				return nil, fmt.Errorf("user %s: unknown role %q", u.ID, r)
			}
		}
	}
	for i, inv := range f.Invoices {
		if inv.ID == "" {
			return nil, fmt.Errorf("invoice %d: missing id", i+1)
		}
		if !inv.Status.Valid() {
			return nil, fmt.Errorf("invoice %s: unknown status %q", inv.ID, inv.Status)
		}
	}
	return &f, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	fx, err := parseFixture(data)
	if err != nil {
		return err
	}

	a, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	for i := range fx.Users {
		if err := a.store.UpsertUser(ctx, &fx.Users[i]); err != nil {
			return err
		}
	}
	for i := range fx.Invoices {
		if err := a.store.UpsertInvoice(ctx, &fx.Invoices[i]); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d user(s) and %d invoice(s)\n", len(fx.Users), len(fx.Invoices))
	return nil
}
