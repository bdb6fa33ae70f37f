package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/cortex/internal/bundle"
	"github.com/kalambet/cortex/internal/config"
	"github.com/kalambet/cortex/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show memory store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.DataDir)
		if err != nil {
			printError("storage: %v", err)
			printStatus("Data dir", "%s", cfg.DataDir)
			return nil
		}
		defer store.Close()

		active, err := store.ActiveCount()
		if err != nil {
			return err
		}
		total, _ := store.TotalCount()
		vectors, _ := store.VectorCount()
		edges, _ := store.EdgeCount()
		pending, _ := store.PendingJobCount()
		migrations, _ := store.AppliedMigrations()

		printStatus("Data dir", "%s", cfg.DataDir)
		printStatus("Schema", "v%d", lastOrZero(migrations))
		printStatus("Active memories", "%d (of %d total)", active, total)
		printStatus("Vectors", "%d", vectors)
		printStatus("Edges", "%d", edges)
		printStatus("Pending embed jobs", "%d", pending)

		if counts, err := store.CountByKind(); err == nil && len(counts) > 0 {
			for _, kind := range storage.Kinds {
				if n := counts[kind]; n > 0 {
					printStatus(string(kind), "%d", n)
				}
			}
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export active memories as a JSON bundle",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		b, err := bundle.Export(store)
		if err != nil {
			return err
		}

		writer := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		enc := json.NewEncoder(writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(b); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Exported %d memories to %s", b.MemoryCount, output)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <bundle.json>",
	Short: "Import a previously exported bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading bundle: %w", err)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		res, err := bundle.Import(store, data)
		if err != nil {
			return err
		}
		printSuccess("Imported %d, skipped %d existing, %d errors", res.Imported, res.Skipped, res.Errors)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
}

func lastOrZero(versions []int) int {
	if len(versions) == 0 {
		return 0
	}
	return versions[len(versions)-1]
}
