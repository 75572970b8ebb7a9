package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/avolkov/personaclone/internal/artifacts"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect and manage persona artifacts",
}

var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored persona versions",
	RunE:  runArtifactsList,
}

var artifactsRollbackCmd = &cobra.Command{
	Use:   "rollback <version>",
	Short: "Make an earlier persona version the active one",
	Long: `Re-registers the named version as a new head. The rolled-back entry
keeps its content hash, so no checkpoint data is copied or rewritten.`,
	Args: cobra.ExactArgs(1),
	RunE: runArtifactsRollback,
}

func init() {
	artifactsCmd.AddCommand(artifactsListCmd)
	artifactsCmd.AddCommand(artifactsRollbackCmd)
	rootCmd.AddCommand(artifactsCmd)
}

func runArtifactsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	store := artifacts.NewStore(database, cfg.DataDir)
	ctx := cmd.Context()

	list, err := store.List(ctx, cfg.TargetUser)
	if err != nil {
		return fmt.Errorf("listing artifacts: %w", err)
	}
	if len(list) == 0 {
		fmt.Printf("No artifacts for %s. Run 'personaclone train' first.\n", cfg.TargetUser)
		return nil
	}

	head, err := store.Latest(ctx, cfg.TargetUser)
	if err != nil {
		return fmt.Errorf("resolving active artifact: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tHASH\tBASE MODEL\tCREATED\t")
	for _, a := range list {
		active := ""
		if a.Version == head.Version {
			active = "(active)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			a.Version, shortHash(a.ContentHash), a.BaseModelRef,
			a.CreatedAt.Format("2006-01-02 15:04"), active)
	}
	return w.Flush()
}

func runArtifactsRollback(cmd *cobra.Command, args []string) error {
	version, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("version must be a number, got %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	store := artifacts.NewStore(database, cfg.DataDir)

	a, err := store.Rollback(cmd.Context(), cfg.TargetUser, version)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return fmt.Errorf("no version %d for %s; run 'personaclone artifacts list'", version, cfg.TargetUser)
		}
		return fmt.Errorf("rolling back: %w", err)
	}

	fmt.Printf("Rolled back to version %d. Active head is now version %d (%s).\n",
		version, a.Version, shortHash(a.ContentHash))
	return nil
}
