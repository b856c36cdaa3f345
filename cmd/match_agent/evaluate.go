package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/match-orchestrator/internal/fetch"
	"github.com/jonathan/match-orchestrator/internal/observability"
	"github.com/jonathan/match-orchestrator/internal/pipeline"
	"github.com/jonathan/match-orchestrator/internal/types"
)

var (
	scoreProfile string
	scoreJob     string
	scoreJobURL  string
	scoreTitle   string
	scoreUser    string
	scoreRefresh bool
	scoreJSON    bool
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a candidate profile against a job posting",
	Long: `Runs the scoring agents and the orchestrator once and prints the verdict.

--profile takes a JSON profile or a plain-text resume; --job takes a JSON
posting or a plain-text or HTML description. Either may be omitted when --user
names a user with a saved default profile or current job.`,
	RunE: runScore,
}

// renderPages enables headless rendering for --job-url.
var renderPages bool

var (
	tailorDocument string
	tailorJob      string
	tailorJobURL   string
	tailorTitle    string
	tailorAnalysis string
	tailorRequest  string
	tailorUser     string
	tailorRefresh  bool
	tailorJSON     bool
	tailorOut      string
)

var tailorCmd = &cobra.Command{
	Use:   "tailor",
	Short: "Tailor a resume to a job posting",
	Long: `Runs the tailoring agents and merges their suggestions into one document.

--analysis takes the JSON output of "score --json" to focus the rewrite.`,
	RunE: runTailor,
}

func init() {
	scoreCmd.Flags().StringVarP(&scoreProfile, "profile", "p", "", "Path to candidate profile (JSON or text, - for stdin)")
	scoreCmd.Flags().StringVarP(&scoreJob, "job", "j", "", "Path to job posting (JSON, text or HTML)")
	scoreCmd.Flags().StringVar(&scoreJobURL, "job-url", "", "URL of a job posting page (mutually exclusive with --job)")
	scoreCmd.Flags().StringVar(&scoreTitle, "title", "", "Job title for text postings (default: first line)")
	scoreCmd.Flags().StringVar(&scoreUser, "user", "", "User ID for caching and saved inputs")
	scoreCmd.Flags().BoolVar(&scoreRefresh, "refresh", false, "Ignore cached results")
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "Print the full response as JSON")
	scoreCmd.Flags().BoolVar(&renderPages, "render", false, "Render script-heavy job pages in headless Chrome")
	scoreCmd.MarkFlagsMutuallyExclusive("job", "job-url")
	rootCmd.AddCommand(scoreCmd)

	tailorCmd.Flags().StringVarP(&tailorDocument, "document", "d", "", "Path to the resume to tailor (- for stdin)")
	tailorCmd.Flags().StringVarP(&tailorJob, "job", "j", "", "Path to job posting (JSON, text or HTML)")
	tailorCmd.Flags().StringVar(&tailorJobURL, "job-url", "", "URL of a job posting page (mutually exclusive with --job)")
	tailorCmd.Flags().StringVar(&tailorTitle, "title", "", "Job title for text postings (default: first line)")
	tailorCmd.Flags().StringVar(&tailorAnalysis, "analysis", "", "Path to a scoring response JSON")
	tailorCmd.Flags().StringVar(&tailorRequest, "request", "", "Extra instructions for the rewrite")
	tailorCmd.Flags().StringVar(&tailorUser, "user", "", "User ID for caching and saved inputs")
	tailorCmd.Flags().BoolVar(&tailorRefresh, "refresh", false, "Ignore cached results")
	tailorCmd.Flags().BoolVar(&tailorJSON, "json", false, "Print the full response as JSON")
	tailorCmd.Flags().StringVarP(&tailorOut, "out", "o", "", "Write the tailored document to this file")
	tailorCmd.Flags().BoolVar(&renderPages, "render", false, "Render script-heavy job pages in headless Chrome")
	tailorCmd.MarkFlagsMutuallyExclusive("job", "job-url")
	_ = tailorCmd.MarkFlagRequired("document")
	rootCmd.AddCommand(tailorCmd)
}

// progressPrinter reports progress on stderr so stdout stays parseable.
func progressPrinter(w io.Writer) pipeline.ProgressCallback {
	return func(ev pipeline.ProgressEvent) {
		if ev.Total > 0 {
			fmt.Fprintf(w, "[%d/%d] %s\n", ev.Completed, ev.Total, ev.Message) //nolint:errcheck
			return
		}
		fmt.Fprintf(w, "%s\n", ev.Message) //nolint:errcheck
	}
}

// fetchJob downloads the posting at rawURL. An explicit title wins over the page's.
func fetchJob(ctx context.Context, log *zap.Logger, rawURL, title string) (*types.JobPosting, error) {
	opts := []fetch.Option{fetch.WithLogger(log)}
	if renderPages {
		opts = append(opts, fetch.WithRenderer(fetch.NewChromeRenderer()))
	}
	job, err := fetch.New(opts...).JobPosting(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if title != "" {
		job.Title = title
	}
	return job, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func buildScoreRequest(stdin io.Reader) (pipeline.ScoreRequest, error) {
	req := pipeline.ScoreRequest{UserID: scoreUser, Refresh: scoreRefresh}
	if scoreProfile != "" {
		data, err := readInput(scoreProfile, stdin)
		if err != nil {
			return req, err
		}
		if req.Profile, err = parseProfile(data); err != nil {
			return req, err
		}
	}
	if scoreJob != "" {
		data, err := readInput(scoreJob, stdin)
		if err != nil {
			return req, err
		}
		if req.Job, err = parseJob(data, scoreTitle); err != nil {
			return req, err
		}
	}
	return req, nil
}

func runScore(cmd *cobra.Command, _ []string) error {
	req, err := buildScoreRequest(cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if scoreJobURL != "" {
		if req.Job, err = fetchJob(cmd.Context(), log, scoreJobURL, scoreTitle); err != nil {
			return err
		}
	}

	var progress pipeline.ProgressCallback
	if verbose {
		progress = progressPrinter(cmd.ErrOrStderr())
	}
	resp, err := a.service.ScoreCandidateAgainstJob(cmd.Context(), req, progress)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scoreJSON {
		return printJSON(out, resp)
	}
	p := observability.NewPrinter(out)
	p.PrintScoreResult(resp.Result)
	p.PrintWeaknesses(resp.Result.Weaknesses)
	p.PrintUsage(resp.Usage)
	return nil
}

func buildTailorRequest(stdin io.Reader) (pipeline.TailorRequest, error) {
	req := pipeline.TailorRequest{UserID: tailorUser, UserRequest: tailorRequest, Refresh: tailorRefresh}

	data, err := readInput(tailorDocument, stdin)
	if err != nil {
		return req, err
	}
	req.Document = string(data)

	if tailorJob != "" {
		data, err := readInput(tailorJob, stdin)
		if err != nil {
			return req, err
		}
		if req.Job, err = parseJob(data, tailorTitle); err != nil {
			return req, err
		}
	}
	if tailorAnalysis != "" {
		data, err := readInput(tailorAnalysis, stdin)
		if err != nil {
			return req, err
		}
		var scored pipeline.ScoreResponse
		if err := json.Unmarshal(data, &scored); err != nil {
			return req, fmt.Errorf("failed to parse scoring analysis: %w", err)
		}
		req.ScoringAnalysis = scored.Result
	}
	return req, nil
}

func runTailor(cmd *cobra.Command, _ []string) error {
	req, err := buildTailorRequest(cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if tailorJobURL != "" {
		if req.Job, err = fetchJob(cmd.Context(), log, tailorJobURL, tailorTitle); err != nil {
			return err
		}
	}

	var progress pipeline.ProgressCallback
	if verbose {
		progress = progressPrinter(cmd.ErrOrStderr())
	}
	resp, err := a.service.TailorDocumentForJob(cmd.Context(), req, progress)
	if err != nil {
		return err
	}

	if tailorOut != "" {
		if err := os.WriteFile(tailorOut, []byte(resp.Result.FinalDocument), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", tailorOut, err)
		}
	}

	out := cmd.OutOrStdout()
	if tailorJSON {
		return printJSON(out, resp)
	}
	p := observability.NewPrinter(out)
	p.PrintTailoringResult(resp.Result)
	p.PrintUsage(resp.Usage)
	if tailorOut == "" {
		fmt.Fprintln(out, resp.Result.FinalDocument) //nolint:errcheck
	}
	return nil
}
