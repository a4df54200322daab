package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/genius/internal/advisor"
	"github.com/kalambet/genius/internal/archetype"
	"github.com/kalambet/genius/internal/compress"
	"github.com/kalambet/genius/internal/config"
	"github.com/kalambet/genius/internal/jobs"
	"github.com/kalambet/genius/internal/pipeline"
)

// --- ask ---

type askOptions struct {
	asJSON bool
	wait   bool
	poll   time.Duration
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Run a question through the pipeline",
	Long: `Run a question through the layered archetype pipeline.

Examples:
  genius ask "What is creativity?"
  genius ask --depth 8 --circuit hybrid "Can machines be original?"
  genius ask --local --depth 2 "Why do we dream?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		depth, _ := cmd.Flags().GetInt("depth")
		circuit, _ := cmd.Flags().GetString("circuit")
		enhanced, _ := cmd.Flags().GetBool("enhanced")
		outputType, _ := cmd.Flags().GetString("output-type")
		length, _ := cmd.Flags().GetString("length")
		local, _ := cmd.Flags().GetBool("local")
		noWait, _ := cmd.Flags().GetBool("no-wait")
		asJSON, _ := cmd.Flags().GetBool("json")

		req := pipeline.Request{
			Question:        strings.Join(args, " "),
			ProcessingDepth: depth,
			CircuitType:     pipeline.CircuitType(circuit),
			EnhancedMode:    enhanced,
			OutputType:      compress.OutputType(outputType),
		}
		if length != "" {
			req.CompressionSettings = &compress.Settings{Length: compress.Length(length)}
		}
		opts := askOptions{asJSON: asJSON, wait: !noWait, poll: time.Second}

		if local {
			return askLocal(cmd.Context(), req, opts, os.Stdout)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return askRemote(cmd.Context(), client, req, opts, os.Stdout)
	},
}

func init() {
	askCmd.Flags().Int("depth", 3, "processing depth (1-30)")
	askCmd.Flags().String("circuit", "sequential", "circuit type: sequential, parallel, recursive, hybrid")
	askCmd.Flags().Bool("enhanced", false, "enable enhanced mode")
	askCmd.Flags().String("output-type", "practical", "compression focus: practical, theoretical, philosophical, abstract")
	askCmd.Flags().String("length", "", "compression length: short, medium, long")
	askCmd.Flags().Bool("local", false, "run in-process instead of calling the server")
	askCmd.Flags().Bool("no-wait", false, "print the job id of a deep run instead of waiting for it")
	askCmd.Flags().Bool("json", false, "print raw JSON")
}

func askRemote(ctx context.Context, c *apiClient, req pipeline.Request, opts askOptions, w io.Writer) error {
	resp, err := c.post(ctx, "/v1/runs", req)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusAccepted {
		var res pipeline.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		return emitResult(w, &res, opts.asJSON)
	}

	var queued struct {
		JobID  string      `json:"jobId"`
		Status jobs.Status `json:"status"`
	}
	if err := decodeJSON(resp, &queued); err != nil {
		return err
	}
	printStep("queued job %s (depth %d)", queued.JobID, req.ProcessingDepth)
	if !opts.wait {
		fmt.Fprintln(w, queued.JobID)
		return nil
	}

	job, err := waitForJob(ctx, c, queued.JobID, opts.poll)
	if err != nil {
		return err
	}
	return emitJobResult(w, job, opts.asJSON)
}

// waitForJob polls a job until it reaches a terminal status, reporting
// each new layer.
func waitForJob(ctx context.Context, c *apiClient, id string, poll time.Duration) (*jobs.Job, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	lastLayer := 0
	for {
		job, err := fetchJob(ctx, c, id)
		if err != nil {
			return nil, err
		}
		if job.Progress.CurrentLayer > lastLayer {
			lastLayer = job.Progress.CurrentLayer
			printStep("layer %d/%d", lastLayer, job.Progress.TotalLayers)
		}
		if job.Status.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func fetchJob(ctx context.Context, c *apiClient, id string) (*jobs.Job, error) {
	resp, err := c.get(ctx, "/v1/jobs/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	var job jobs.Job
	if err := decodeJSON(resp, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func emitResult(w io.Writer, res *pipeline.Result, asJSON bool) error {
	if asJSON {
		return writeJSON(w, res)
	}
	printResult(w, res)
	return nil
}

func emitJobResult(w io.Writer, job *jobs.Job, asJSON bool) error {
	switch job.Status {
	case jobs.StatusCompleted:
		if job.FinalResults == nil {
			return fmt.Errorf("job %s completed without results", job.ID)
		}
		return emitResult(w, job.FinalResults, asJSON)
	case jobs.StatusFailed:
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	default:
		return fmt.Errorf("job %s %s", job.ID, job.Status)
	}
}

// askLocal runs the request in-process. Deep runs are queued in the local
// store and driven by this process's worker until they finish.
func askLocal(ctx context.Context, req pipeline.Request, opts askOptions, w io.Writer) error {
	cfg, logCloser, err := loadAndLog()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sub, err := a.svc.Submit(ctx, req)
	if err != nil {
		return err
	}
	if !sub.Queued() {
		return emitResult(w, sub.Result, opts.asJSON)
	}

	printStep("running job %s locally", sub.JobID)
	for {
		job, err := a.svc.GetJob(ctx, sub.JobID)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return emitJobResult(w, job, opts.asJSON)
		}

		claimed, err := a.worker.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !claimed {
			// Another process holds the job.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Jobs.PollInterval):
			}
		}
	}
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect or cancel chunked jobs",
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a job's status, progress and results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		job, err := fetchJob(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(os.Stdout, job)
		}
		printJob(os.Stdout, job)
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending or processing job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := cancelJob(cmd.Context(), client, args[0]); err != nil {
			return err
		}
		printSuccess("Cancelled job %s", args[0])
		return nil
	},
}

func cancelJob(ctx context.Context, c *apiClient, id string) error {
	resp, err := c.post(ctx, "/v1/jobs/"+url.PathEscape(id)+"/cancel", nil)
	if err != nil {
		return err
	}
	var result map[string]any
	return decodeJSON(resp, &result)
}

func init() {
	jobsShowCmd.Flags().Bool("json", false, "print raw JSON")
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
}

// --- archetypes ---

var archetypesCmd = &cobra.Command{
	Use:   "archetypes",
	Short: "List the effective archetype set",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		set, err := fetchArchetypes(cmd.Context(), client)
		if err != nil {
			return err
		}
		printArchetypes(os.Stdout, set)
		return nil
	},
}

func fetchArchetypes(ctx context.Context, c *apiClient) ([]archetype.Archetype, error) {
	resp, err := c.get(ctx, "/v1/archetypes")
	if err != nil {
		return nil, err
	}
	var body struct {
		Archetypes []archetype.Archetype `json:"archetypes"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return body.Archetypes, nil
}

// --- recommend ---

var recommendCmd = &cobra.Command{
	Use:   "recommend <question>",
	Short: "Suggest depth, circuit and mode for a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		rec, err := fetchRecommendation(cmd.Context(), client, strings.Join(args, " "))
		if err != nil {
			return err
		}

		printStatus("Type", "%s", rec.QuestionType)
		printStatus("Depth", "%d", rec.ProcessingDepth)
		printStatus("Circuit", "%s", rec.CircuitType)
		printStatus("Enhanced", "%s", yesNo(rec.EnhancedMode))
		printStatus("Reason", "%s", rec.Reason)
		if n := len(rec.SimilarRuns); n > 0 {
			printStatus("Similar runs", "%d", n)
		}
		return nil
	},
}

func fetchRecommendation(ctx context.Context, c *apiClient, question string) (*advisor.Recommendation, error) {
	resp, err := c.get(ctx, "/v1/recommendations?question="+url.QueryEscape(question))
	if err != nil {
		return nil, err
	}
	var rec advisor.Recommendation
	if err := decodeJSON(resp, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", bold.Sprint(k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		if config.IsSecret(key) {
			printSuccess("Stored %s in the secret store", key)
			return nil
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
