package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avolkov/personaclone/internal/session"
)

// demoPrompts exercise different dialog registers so the output shows
// how the clone shifts tone.
var demoPrompts = []string{
	"hey, how's your day going?",
	"can you send me the plan for tomorrow?",
	"what do you think about the new place downtown?",
	"I'm running late, sorry!",
	"did you see that message from mom?",
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Chat with the trained clone in the terminal",
	Long: `Opens a session against the active artifact and either replays a set of
canned prompts, sends a single message with --message, or, with
--interactive, reads your messages from stdin.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().BoolP("interactive", "i", false, "chat interactively instead of replaying canned prompts")
	demoCmd.Flags().StringP("message", "m", "", "send a single message and exit")
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	manager, _, _, err := newSessionComponents(cfg, database)
	if err != nil {
		return err
	}
	defer manager.Stop()

	ctx := context.Background()
	sess, err := manager.Open(ctx, cfg.TargetUser)
	if err != nil {
		if errors.Is(err, session.ErrNoArtifact) {
			return fmt.Errorf("no trained persona for %q; run `personaclone train` first", cfg.TargetUser)
		}
		return err
	}
	defer manager.Close(ctx, sess.ID)

	fmt.Printf("Chatting with %s (artifact %s)\n\n", cfg.TargetUser, shortHash(sess.ArtifactHash))

	if message, _ := cmd.Flags().GetString("message"); message != "" {
		fmt.Printf("> %s\n", message)
		return printReply(ctx, manager, sess.ID, message)
	}

	interactive, _ := cmd.Flags().GetBool("interactive")
	if interactive {
		return runInteractive(ctx, manager, sess.ID)
	}

	for _, prompt := range demoPrompts {
		fmt.Printf("> %s\n", prompt)
		if err := printReply(ctx, manager, sess.ID, prompt); err != nil {
			return err
		}
		fmt.Println()
	}
	return nil
}

func runInteractive(ctx context.Context, manager *session.Manager, sessionID string) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Type a message and press enter; empty line or ctrl-d to quit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			break
		}
		if err := printReply(ctx, manager, sessionID, text); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func printReply(ctx context.Context, manager *session.Manager, sessionID, text string) error {
	turn, err := manager.Reply(ctx, sessionID, text)
	if err != nil {
		var timeout *session.TimeoutError
		if errors.As(err, &timeout) {
			fmt.Println("  (generation timed out)")
			return nil
		}
		return err
	}

	marker := ""
	if turn.DriftWarning {
		marker = "  [style drift]"
	}
	fmt.Printf("%s%s\n", turn.Text, marker)
	if verbose {
		fmt.Fprintf(os.Stderr, "  similarity %.2f\n", turn.StyleSimilarity)
	}
	return nil
}
