package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/config"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/thinking"
)

// withApp opens the local store for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, out io.Writer) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a, cmd.OutOrStdout())
}

func noteArg(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <note>",
	Short: "Ingest a note into the local store",
	Long: `Ingest a free-form note: extract a card, route it to an envelope and
refresh the user context.

Examples:
  assistant ingest "Call Sarah about the Q3 budget next Monday"
  assistant ingest --json "Idea: monthly reading club"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withApp(cmd, func(ctx context.Context, a *app, out io.Writer) error {
			return runIngest(ctx, a, out, noteArg(args), asJSON)
		})
	},
}

func runIngest(ctx context.Context, a *app, out io.Writer, note string, asJSON bool) error {
	res, err := a.orchestrator.IngestNote(ctx, note)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(out, res)
	}

	printSuccess("Created %s card %s", res.Card.CardType, res.Card.ID)
	fmt.Fprintf(out, "Description: %s\n", res.Card.Description)
	if res.Card.Assignee != "" {
		fmt.Fprintf(out, "Assignee:    %s\n", res.Card.Assignee)
	}
	if res.Card.DueAt != nil {
		fmt.Fprintf(out, "Due:         %s\n", res.Card.DueAt.In(a.cfg.Location()).Format("2006-01-02 15:04"))
	}
	if len(res.Card.Keywords) > 0 {
		fmt.Fprintf(out, "Keywords:    %s\n", strings.Join(res.Card.Keywords, ", "))
	}
	fmt.Fprintf(out, "Envelope:    %s (%s, score %.2f)\n", res.EnvelopeName, res.Action, res.Score)
	fmt.Fprintf(out, "Reason:      %s\n", res.Reason)
	if !res.LLMSuccess {
		printWarning("extraction used the rule-based fallback")
	}
	if res.ContextMessage != "" {
		printStep("%s", res.ContextMessage)
	}
	return nil
}

func init() {
	ingestCmd.Flags().Bool("json", false, "print the full ingestion result as JSON")
}

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit <note>",
	Short: "Queue a note on the running server for background ingestion",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialServer()
		if err != nil {
			return err
		}
		wait, _ := cmd.Flags().GetBool("wait")
		return runSubmit(cmd.Context(), client, noteArg(args), wait)
	},
}

func init() {
	submitCmd.Flags().Bool("wait", false, "wait until the server has ingested the note")
}

const jobPollInterval = 500 * time.Millisecond

func runSubmit(ctx context.Context, client *serverClient, note string, wait bool) error {
	q, err := client.SubmitNote(ctx, note)
	if err != nil {
		return err
	}
	if !wait {
		printSuccess("Queued note as job %s", q.JobID)
		return nil
	}

	printStep("Queued note as job %s, waiting", q.JobID)
	job, err := client.WaitJob(ctx, q.JobID, jobPollInterval)
	if err != nil {
		return err
	}
	if job.Status == "failed" {
		return fmt.Errorf("job %s failed after %d attempts: %s", job.ID, job.Attempts, job.LastError)
	}
	printSuccess("Ingested note (job %s)", job.ID)
	return nil
}

// --- cards ---

var cardsCmd = &cobra.Command{
	Use:   "cards",
	Short: "Browse cards",
}

var cardsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent cards",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		envID, _ := cmd.Flags().GetString("envelope")
		asJSON, _ := cmd.Flags().GetBool("json")
		return withApp(cmd, func(ctx context.Context, a *app, out io.Writer) error {
			var (
				cards []storage.Card
				err   error
			)
			if envID != "" {
				cards, err = a.store.ListCardsByEnvelope(ctx, envID)
			} else {
				cards, err = a.store.ListCards(ctx, limit)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, cards)
			}
			return printCards(out, cards, a.cfg.Location())
		})
	},
}

func printCards(out io.Writer, cards []storage.Card, loc *time.Location) error {
	if len(cards) == 0 {
		fmt.Fprintln(out, "No cards yet.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tDUE\tASSIGNEE\tDESCRIPTION")
	for _, c := range cards {
		due := "-"
		if c.DueAt != nil {
			due = c.DueAt.In(loc).Format("2006-01-02")
		}
		assignee := c.Assignee
		if assignee == "" {
			assignee = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.CardType, due, assignee, ellipsize(c.Description, 60))
	}
	return tw.Flush()
}

func init() {
	cardsListCmd.Flags().Int("limit", 20, "maximum number of cards")
	cardsListCmd.Flags().String("envelope", "", "only cards in this envelope")
	cardsListCmd.Flags().Bool("json", false, "output JSON")
	cardsCmd.AddCommand(cardsListCmd)
}

// --- envelopes ---

var envelopesCmd = &cobra.Command{
	Use:   "envelopes",
	Short: "Browse envelopes",
}

var envelopesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List envelopes, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withApp(cmd, func(ctx context.Context, a *app, out io.Writer) error {
			envs, err := a.store.ListEnvelopes(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, envs)
			}
			return printEnvelopes(out, envs)
		})
	},
}

func printEnvelopes(out io.Writer, envs []storage.Envelope) error {
	if len(envs) == 0 {
		fmt.Fprintln(out, "No envelopes yet.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCARDS\tKEYWORDS")
	for _, e := range envs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.ID, e.Name, e.CardCount, ellipsize(strings.Join(e.Keywords, ", "), 50))
	}
	return tw.Flush()
}

var envelopesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an envelope and its cards",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, out io.Writer) error {
			env, err := a.store.GetEnvelope(ctx, args[0])
			if err != nil {
				return fmt.Errorf("envelope %s: %w", args[0], err)
			}
			cards, err := a.store.ListCardsByEnvelope(ctx, env.ID)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s\n", colorize(colorBold, env.Name))
			fmt.Fprintf(out, "%s\n\n", env.Summary)
			fmt.Fprintf(out, "Keywords: %s\n", strings.Join(env.Keywords, ", "))
			fmt.Fprintf(out, "Cards:    %d\n\n", env.CardCount)
			return printCards(out, cards, a.cfg.Location())
		})
	},
}

func init() {
	envelopesListCmd.Flags().Bool("json", false, "output JSON")
	envelopesCmd.AddCommand(envelopesListCmd, envelopesShowCmd)
}

// --- context ---

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Inspect the user context",
}

var contextShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current user context as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, out io.Writer) error {
			snap, err := a.context.Current(ctx, a.store)
			if err != nil {
				return err
			}
			return printJSON(out, snap)
		})
	},
}

func init() {
	contextCmd.AddCommand(contextShowCmd)
}

// --- thinking ---

var thinkingCmd = &cobra.Command{
	Use:   "thinking",
	Short: "Run or inspect thinking passes",
}

var thinkingRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan cards and envelopes for conflicts, next steps and recommendations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, out io.Writer) error {
			res, err := a.thinker.Run(ctx)
			if err != nil {
				return err
			}
			printSuccess("Run %s: %d new suggestions (%d already open)", res.RunID, len(res.Suggestions), res.Skipped)
			for _, s := range res.Suggestions {
				fmt.Fprintf(out, "  [%s] %s: %s\n", s.Priority, s.Title, s.Message)
			}
			if res.ArtifactPath != "" {
				printStep("artifact written to %s", res.ArtifactPath)
			}
			return nil
		})
	},
}

var thinkingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent thinking artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		arts, err := thinking.ListArtifacts(cfg.Thinking.OutputDir, limit)
		if err != nil {
			return err
		}
		return printArtifacts(cmd.OutOrStdout(), arts)
	},
}

func printArtifacts(out io.Writer, arts []thinking.Artifact) error {
	if len(arts) == 0 {
		fmt.Fprintln(out, "No thinking runs yet.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tGENERATED\tSUGGESTIONS\tPATH")
	for _, art := range arts {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", art.RunID, art.GeneratedAt.Format(time.RFC3339), art.SuggestionsCount, art.Path)
	}
	return tw.Flush()
}

func init() {
	thinkingListCmd.Flags().Int("limit", 10, "maximum number of runs")
	thinkingCmd.AddCommand(thinkingRunCmd, thinkingListCmd)
}

// --- suggestions ---

var suggestionsCmd = &cobra.Command{
	Use:   "suggestions",
	Short: "Review suggestions from thinking runs",
}

var suggestionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List suggestions as a Markdown report",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		if status == "all" {
			status = ""
		}
		return withApp(cmd, func(ctx context.Context, a *app, out io.Writer) error {
			sugs, err := a.store.ListSuggestions(ctx, status, 100)
			if err != nil {
				return err
			}
			fmt.Fprint(out, thinking.Markdown(sugs))
			return nil
		})
	},
}

var suggestionsSetCmd = &cobra.Command{
	Use:   "set <id> <open|accepted|dismissed>",
	Short: "Accept, dismiss or reopen a suggestion",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, out io.Writer) error {
			s, err := thinking.SetStatus(ctx, a.store, args[0], args[1])
			if err != nil {
				return err
			}
			printSuccess("Suggestion %s is now %s", s.ID, s.Status)
			return nil
		})
	},
}

func init() {
	suggestionsListCmd.Flags().String("status", thinking.StatusOpen, "open, accepted, dismissed or all")
	suggestionsCmd.AddCommand(suggestionsListCmd, suggestionsSetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value (API keys go to the secrets file)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}

// --- db ---

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the local database",
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all cards, envelopes, context and suggestions",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to reset without --yes")
		}
		return withApp(cmd, func(ctx context.Context, a *app, out io.Writer) error {
			if err := a.store.Reset(ctx); err != nil {
				return err
			}
			a.context.Invalidate()
			printSuccess("Database reset")
			return nil
		})
	},
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "confirm the reset")
	dbCmd.AddCommand(dbResetCmd)
}
