package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sorakabot/soraka/internal/config"
	"github.com/sorakabot/soraka/internal/conversation"
	"github.com/sorakabot/soraka/internal/dataset"
	"github.com/sorakabot/soraka/internal/evaluation"
	"github.com/sorakabot/soraka/internal/ingest"
	"github.com/sorakabot/soraka/internal/pipeline"
	"github.com/sorakabot/soraka/internal/retrieval"
	"github.com/sorakabot/soraka/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask SorakaBot a question through the running server",
	Long: `Ask SorakaBot a question through the running server.

Examples:
  soraka ask "What is glaucoma?"
  soraka ask --session 3f2c... "And how is it treated?"
  soraka ask --language English --temperature 0.5 "What causes migraines?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		language, _ := cmd.Flags().GetString("language")
		temperature, _ := cmd.Flags().GetFloat64("temperature")
		if temperature < 0 || temperature > 1 {
			return fmt.Errorf("--temperature must be between 0 and 1")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runAsk(cmd.Context(), client, cmd.OutOrStdout(), askRequest{
			Question:    strings.Join(args, " "),
			Temperature: temperature,
			Language:    language,
			SessionID:   session,
		})
	},
}

type askRequest struct {
	Question    string  `json:"question"`
	Temperature float64 `json:"temperature"`
	Language    string  `json:"language,omitempty"`
	SessionID   string  `json:"session_id,omitempty"`
}

func runAsk(ctx context.Context, client *apiClient, w io.Writer, req askRequest) error {
	resp, err := client.post(ctx, "/answer", req)
	if err != nil {
		return err
	}
	var out pipeline.Response
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}

	fmt.Fprintln(w, out.Message)
	if out.Error != "" {
		printWarning("%s", out.Error)
	}
	printStatus("Session", "%s", out.SessionID)
	return nil
}

func init() {
	askCmd.Flags().String("session", "", "session id from a previous answer")
	askCmd.Flags().String("language", pipeline.DefaultLanguage, "answer language")
	askCmd.Flags().Float64("temperature", pipeline.DefaultTemperature, "sampling temperature in [0,1]")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Show the nearest knowledge-base entries for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runSearch(cmd.Context(), client, cmd.OutOrStdout(), strings.Join(args, " "), limit)
	},
}

func runSearch(ctx context.Context, client *apiClient, w io.Writer, query string, limit int) error {
	resp, err := client.get(ctx, fmt.Sprintf("/search?q=%s&k=%d", url.QueryEscape(query), limit))
	if err != nil {
		return err
	}
	var body struct {
		Results []retrieval.Result `json:"results"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return err
	}

	if len(body.Results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}
	for i, r := range body.Results {
		fmt.Fprintf(w, "%d. [%.4f] %s\n", i+1, r.Score, r.Document.Content)
		fmt.Fprintf(w, "   %s / %s\n", r.Document.Source, r.Document.FocusArea)
		fmt.Fprintf(w, "   %s\n", truncate(r.Document.Answer, 200))
	}
	return nil
}

func init() {
	searchCmd.Flags().Int("limit", 3, "number of results")
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect conversation sessions",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the turns of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runSessionShow(cmd.Context(), client, cmd.OutOrStdout(), args[0])
	},
}

func runSessionShow(ctx context.Context, client *apiClient, w io.Writer, id string) error {
	resp, err := client.get(ctx, "/sessions/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	var view struct {
		SessionID string              `json:"session_id"`
		Turns     []conversation.Turn `json:"turns"`
	}
	if err := decodeJSON(resp, &view); err != nil {
		return err
	}
	for _, t := range view.Turns {
		fmt.Fprintf(w, "%s  %s: %s\n", t.At.Local().Format("15:04:05"), labelColor.Sprint(t.Role), t.Content)
	}
	return nil
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd)
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "List answered questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		session, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runInteractions(cmd.Context(), client, cmd.OutOrStdout(), session, limit)
	},
}

func runInteractions(ctx context.Context, client *apiClient, w io.Writer, session string, limit int) error {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	if session != "" {
		q.Set("session_id", session)
	}
	resp, err := client.get(ctx, "/interactions?"+q.Encode())
	if err != nil {
		return err
	}
	var list []storage.Interaction
	if err := decodeJSON(resp, &list); err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No interactions found.")
		return nil
	}
	for _, in := range list {
		mode := in.Mode
		if in.Error != "" {
			mode = "error"
		}
		fmt.Fprintf(w, "%s  %-8s  %5dms  %s\n", in.CreatedAt.Local().Format(time.DateTime), mode, in.LatencyMS, truncate(in.Question, 80))
	}
	return nil
}

func init() {
	interactionsCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsCmd.Flags().String("session", "", "only show one session")
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load a medical Q&A CSV into the knowledge base",
	Long: `Load a medical Q&A CSV (question, answer, source, focus_area) into the
knowledge base. Rows are embedded and written directly to the configured
vector store. With --remote the rows are queued on the running server instead.

Examples:
  soraka ingest --csv ./downloaded_files/medquad.csv
  soraka ingest --csv extra.csv --remote`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("csv")
		remote, _ := cmd.Flags().GetBool("remote")
		if path == "" {
			return fmt.Errorf("--csv is required")
		}

		rows, err := dataset.Load(path)
		if err != nil {
			return err
		}
		printStep("Read %d rows from %s", len(rows), path)

		if remote {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			jobs, err := enqueueRows(cmd.Context(), client, rows, remoteBatchSize)
			if err != nil {
				return err
			}
			printSuccess("Queued %d ingest job(s)", len(jobs))
			return nil
		}
		return ingestLocal(cmd.Context(), rows)
	},
}

// Keeps each request under the server body limit for typical answers.
const remoteBatchSize = 100

func ingestLocal(ctx context.Context, rows []dataset.Row) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	loader := ingest.NewLoader(retrieval.NewEmbedder(a.embedder), a.vectors, 0, logger.Named("ingest"))
	loader.OnProgress = func(done, total int) {
		printStep("Stored %d/%d", done, total)
	}
	n, err := loader.Load(ctx, rows)
	if err != nil {
		return fmt.Errorf("ingesting after %d rows: %w", n, err)
	}
	printSuccess("Stored %d documents in %s", n, cfg.KnowledgeBase.Backend)
	return nil
}

// enqueueRows posts rows to the server in batches and returns the job ids.
func enqueueRows(ctx context.Context, client *apiClient, rows []dataset.Row, batchSize int) ([]string, error) {
	var jobs []string
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		entries := make([]dataset.Row, 0, end-start)
		for _, r := range rows[start:end] {
			// The server rejects entries missing metadata; skip them here.
			if r.Source == "" || r.FocusArea == "" {
				continue
			}
			entries = append(entries, r)
		}
		if len(entries) == 0 {
			continue
		}

		resp, err := client.post(ctx, "/knowledge-base/documents", ingest.Payload{Entries: entries})
		if err != nil {
			return jobs, err
		}
		var out struct {
			JobID string `json:"job_id"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return jobs, fmt.Errorf("queueing rows %d-%d: %w", start, end-1, err)
		}
		jobs = append(jobs, out.JobID)
	}
	return jobs, nil
}

func init() {
	ingestCmd.Flags().String("csv", "", "path to the Q&A CSV file")
	ingestCmd.Flags().Bool("remote", false, "queue rows on the running server")
}

// --- eval ---

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score the answer pipeline against a labeled dataset",
	Long: `Sample questions from a labeled dataset, answer each one and report mean
relevance, knowledge-base hit rate and mean latency.

By default the pipeline runs in-process; --http evaluates a running server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		path, _ := flags.GetString("dataset")
		samples, _ := flags.GetInt("samples")
		seed, _ := flags.GetInt64("seed")
		temperature, _ := flags.GetFloat64("temperature")
		language, _ := flags.GetString("language")
		useHTTP, _ := flags.GetBool("http")
		if path == "" {
			path = cfg.Eval.Dataset
		}
		if samples <= 0 {
			samples = cfg.Eval.Samples
		}
		if !flags.Changed("seed") {
			seed = int64(cfg.Eval.Seed)
		}

		rows, err := dataset.Load(path)
		if err != nil {
			return err
		}

		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		var source evaluation.ResponseSource
		if useHTTP {
			source = evaluation.NewHTTPSource(serverURL(cfg), temperature, language, cfg.PipelineTimeout()+5*time.Second)
		} else {
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			sessions, err := a.newSessions(cmd.Context())
			if err != nil {
				return err
			}
			gen, _ := a.newGenerator()
			source = evaluation.NewInProcessSource(a.newOrchestrator(sessions, gen), temperature, language)
		}

		printStep("Evaluating %d of %d questions (seed %d)", samples, len(rows), seed)
		report, err := evaluation.NewHarness(source, seed, logger.Named("eval")).Run(cmd.Context(), rows, samples)
		if err != nil {
			return err
		}
		report.Print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	evalCmd.Flags().String("dataset", "", "labeled CSV (default eval.dataset)")
	evalCmd.Flags().Int("samples", 0, "number of questions to sample (default eval.samples)")
	evalCmd.Flags().Int64("seed", evaluation.DefaultSeed, "sampling seed (default eval.seed)")
	evalCmd.Flags().Float64("temperature", 0.5, "generation temperature")
	evalCmd.Flags().String("language", pipeline.DefaultLanguage, "answer language")
	evalCmd.Flags().Bool("http", false, "evaluate the running server instead of an in-process pipeline")
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
		printConfig(cmd.OutOrStdout(), config.ShowAll(cfg))
		return nil
	},
}

func printConfig(w io.Writer, keys []config.KeyInfo) {
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", labelColor.Sprint(k.Key), k.Value)
	}
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
