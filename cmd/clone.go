package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/avolkov/personaclone/internal/corpus"
	"github.com/avolkov/personaclone/internal/exemplars"
	"github.com/avolkov/personaclone/internal/export"
	"github.com/avolkov/personaclone/internal/progress"
	"github.com/avolkov/personaclone/internal/styleprofile"
)

var cloneCmd = &cobra.Command{
	Use:   "clone <export-path>",
	Short: "Extract and profile the target user's messages from chat exports",
	Long: `Reads chat export files (Telegram JSON or JSONL), extracts and cleans
the target user's messages into a training corpus, builds their style
profile and indexes their utterances for exemplar retrieval.`,
	Args: cobra.ExactArgs(1),
	RunE: runClone,
}

func init() {
	cloneCmd.Flags().Bool("report", false, "print the full style report")
	rootCmd.AddCommand(cloneCmd)
}

func runClone(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	paths, err := export.Discover(args[0], cfg.Include, cfg.Exclude)
	if err != nil {
		return fmt.Errorf("discovering export files: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no export files found under %s", args[0])
	}

	reporter := progress.NewReporter("Parsing exports")
	reporter.Start(len(paths))
	var msgs []export.RawMessage
	for i, path := range paths {
		parsed, err := export.ParseFile(path)
		if err != nil {
			reporter.Finish()
			return err
		}
		msgs = append(msgs, parsed...)
		reporter.Update(i+1, "")
	}
	reporter.Finish()

	builder := corpus.NewBuilder(cfg.Corpus)
	c, err := builder.Build(cfg.TargetUser, msgs)
	if err != nil {
		var insufficient *corpus.InsufficientDataError
		if errors.As(err, &insufficient) {
			return fmt.Errorf("not enough messages from %q: have %d, need %d",
				cfg.TargetUser, insufficient.Have, insufficient.Need)
		}
		return err
	}

	path, err := c.Save(cfg.DataDir)
	if err != nil {
		return err
	}

	profiler := styleprofile.NewProfiler(cfg.Corpus.MinCorpusSize)
	profile := profiler.Build(c)

	index, err := exemplars.NewIndex(cfg.TargetUser, nil)
	if err != nil {
		return fmt.Errorf("creating exemplar index: %w", err)
	}
	if err := index.BuildFromCorpus(context.Background(), c); err != nil {
		return fmt.Errorf("indexing utterances: %w", err)
	}
	if err := index.Persist(cfg.DataDir); err != nil {
		return fmt.Errorf("saving exemplar index: %w", err)
	}

	fmt.Printf("Corpus: %d utterances, %d training examples (%d rejected) -> %s\n",
		len(c.Utterances), len(c.Examples), c.Rejected, path)
	if len(c.ContextStats) > 0 {
		contexts := make([]string, 0, len(c.ContextStats))
		for dc := range c.ContextStats {
			contexts = append(contexts, string(dc))
		}
		sort.Strings(contexts)
		for _, dc := range contexts {
			fmt.Printf("  %-13s %d\n", dc, c.ContextStats[corpus.DialogContext(dc)])
		}
	}
	if profile.Insufficient {
		fmt.Printf("Warning: only %d samples; the style profile is marked insufficient and training will be refused.\n",
			profile.SampleCount)
	}

	showReport, _ := cmd.Flags().GetBool("report")
	if showReport {
		fmt.Println()
		fmt.Println(profile.Report())
	} else {
		fmt.Printf("Style profile built from %d samples. Run with --report for details.\n", profile.SampleCount)
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "parsed %d raw messages from %d files\n", len(msgs), len(paths))
	}
	return nil
}
