package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/kasuwabot/internal/state"
	"github.com/user/kasuwabot/internal/types"
)

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogListCmd, catalogImportCmd, onboardingImportCmd)
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the Q&A catalog and onboarding sequence",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		catalog := state.NewCatalogStore(cfg.DataDir)

		entries, err := catalog.ListCatalog(context.Background())
		if err != nil {
			return fmt.Errorf("list catalog: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("Catalog is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tQUESTION\tTEXT\tAUDIO\tEMBEDDING")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%t\n",
				e.ID, e.Question, e.AnswerText != "", e.AnswerAudio != "", len(e.Embedding) > 0)
		}
		return w.Flush()
	},
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Replace the catalog from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		catalog := state.NewCatalogStore(cfg.DataDir)

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read catalog file: %w", err)
		}
		var entries []*types.CatalogEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("parse catalog file: %w", err)
		}
		for i, e := range entries {
			if e.Question == "" {
				fmt.Fprintf(os.Stderr, "Warning: entry %d has no question and will never match.\n", i)
			}
		}

		if err := catalog.SaveCatalog(context.Background(), entries); err != nil {
			return fmt.Errorf("save catalog: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Imported %d catalog entries.\n", len(entries))
		return nil
	},
}

var onboardingImportCmd = &cobra.Command{
	Use:   "import-onboarding <file.json>",
	Short: "Replace the onboarding sequence from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		catalog := state.NewCatalogStore(cfg.DataDir)

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read onboarding file: %w", err)
		}
		var steps []*types.OnboardingStep
		if err := json.Unmarshal(data, &steps); err != nil {
			return fmt.Errorf("parse onboarding file: %w", err)
		}

		if err := catalog.SaveOnboardingSequence(context.Background(), steps); err != nil {
			return fmt.Errorf("save onboarding sequence: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Imported %d onboarding steps.\n", len(steps))
		return nil
	},
}
