// Package executor renders prompt templates, calls the completion endpoint with
// bounded retries, and validates replies against each template's declared shape.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/match-orchestrator/internal/llm"
	"github.com/jonathan/match-orchestrator/internal/logger"
	"github.com/jonathan/match-orchestrator/internal/prompts"
)

// Options controls retries and timeouts for every call made by an Executor.
type Options struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
	// CallTimeout bounds each individual completion call.
	CallTimeout time.Duration
	// Prices is used to estimate cost from usage.
	Prices llm.PriceTable
}

// DefaultOptions returns 3 attempts, a 1s delay and a 60s per-call timeout.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		RetryDelay:  time.Second,
		CallTimeout: 60 * time.Second,
		Prices:      llm.DefaultPrices(),
	}
}

// Call carries per-invocation overrides.
type Call struct {
	// UserID is forwarded to the provider as a caller tag.
	UserID string
	// MaxTokens overrides the template's ceiling when positive.
	MaxTokens int
}

// Usage is the telemetry of one Execute, summed over all attempts.
type Usage struct {
	llm.Usage
	Model       string  `json:"model"`
	Cost        float64 `json:"cost"`
	CostSavings float64 `json:"cost_savings"`
	Attempts    int     `json:"attempts"`
}

// Add returns the sum of two usages. Model is kept from u unless empty.
func (u Usage) Add(o Usage) Usage {
	model := u.Model
	if model == "" {
		model = o.Model
	}
	return Usage{
		Usage:       u.Usage.Add(o.Usage),
		Model:       model,
		Cost:        u.Cost + o.Cost,
		CostSavings: u.CostSavings + o.CostSavings,
		Attempts:    u.Attempts + o.Attempts,
	}
}

// Result is the outcome of Execute. Success is false when every attempt
// failed; Err then holds the last failure. Usage is populated either way.
type Result struct {
	TemplateID string
	Success    bool
	// Data is the validated JSON object for json-shaped templates.
	Data json.RawMessage
	// Sections holds the tagged sections for text-shaped templates.
	Sections map[string]string
	// Text is the raw reply of the last attempt.
	Text  string
	Usage Usage
	Err   error
}

// Decode unmarshals Data into v.
func (r *Result) Decode(v any) error {
	if !r.Success || len(r.Data) == 0 {
		return fmt.Errorf("no data to decode for template %s", r.TemplateID)
	}
	return json.Unmarshal(r.Data, v)
}

// Executor executes prompt templates against a completion client.
// It is safe for concurrent use.
type Executor struct {
	client   llm.Client
	registry *prompts.Registry
	opts     Options
	logger   *zap.Logger
	wait     func(ctx context.Context, d time.Duration) error
}

// New creates an Executor. Zero MaxAttempts, CallTimeout and Prices fall back
// to DefaultOptions; a zero RetryDelay retries immediately.
func New(client llm.Client, registry *prompts.Registry, opts Options, log *zap.Logger) *Executor {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.Prices == nil {
		opts.Prices = def.Prices
	}
	return &Executor{
		client:   client,
		registry: registry,
		opts:     opts,
		logger:   logger.WithFields(log, logger.CommonFields(string(client.Provider()), "")...),
		wait:     sleepContext,
	}
}

// Registry returns the template registry the executor renders from.
func (e *Executor) Registry() *prompts.Registry {
	return e.registry
}

// Execute renders templateID with vars and runs it. The returned error is
// non-nil only for a *TemplateError, which is detected before any network
// call. Every other failure is reported through Result.Err with
// Result.Success set to false.
func (e *Executor) Execute(ctx context.Context, templateID string, vars map[string]string, call Call) (*Result, error) {
	rendered, err := e.registry.Render(templateID, vars)
	if err != nil {
		return nil, err
	}

	maxTokens := rendered.MaxTokens
	if call.MaxTokens > 0 {
		maxTokens = call.MaxTokens
	}
	req := llm.Request{
		Tier:        rendered.Tier,
		System:      rendered.SystemText,
		User:        rendered.UserText,
		Temperature: rendered.Temperature,
		MaxTokens:   maxTokens,
		JSON:        rendered.Shape == prompts.ShapeJSON,
		UserTag:     call.UserID,
	}

	log := e.logger.With(
		zap.String(logger.FieldTemplate, templateID),
		zap.String(logger.FieldModel, e.client.GetModel(rendered.Tier)),
	)

	result := &Result{TemplateID: templateID}
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.wait(ctx, e.opts.RetryDelay); err != nil {
				result.Err = err
				break
			}
		}

		text, usage, err := e.attempt(ctx, req)
		result.Usage = result.Usage.Add(usage)
		result.Text = text

		if err == nil {
			data, sections, perr := parseReply(rendered.Template, text)
			if perr == nil {
				result.Success = true
				result.Data = data
				result.Sections = sections
				result.Err = nil
				log.Debug("completion succeeded",
					zap.Int("attempt", attempt),
					zap.Int("total_tokens", result.Usage.TotalTokens))
				return result, nil
			}
			err = perr
		}

		result.Err = err
		if !IsRetryable(err) || ctx.Err() != nil {
			break
		}
		if attempt < e.opts.MaxAttempts {
			log.Warn("completion attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.String("error_kind", Kind(err)),
				zap.Error(err))
		}
	}

	log.Warn("completion failed",
		zap.Int("attempts", result.Usage.Attempts),
		zap.String("error_kind", Kind(result.Err)),
		zap.Error(result.Err))
	return result, nil
}

// attempt performs one completion call under the per-call timeout.
func (e *Executor) attempt(ctx context.Context, req llm.Request) (string, Usage, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	resp, err := e.client.Complete(callCtx, req)

	usage := Usage{Attempts: 1}
	if resp != nil {
		usage.Usage = resp.Usage
		usage.Model = resp.Model
		usage.Cost, usage.CostSavings = e.opts.Prices.Estimate(resp.Model, resp.Usage)
	}
	if usage.Model == "" {
		usage.Model = e.client.GetModel(req.Tier)
	}

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return "", usage, ctx.Err()
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return "", usage, &TimeoutError{Cause: err}
		default:
			var perr *llm.ProviderError
			status := 0
			if errors.As(err, &perr) {
				status = perr.StatusCode
			}
			return "", usage, &TransportError{StatusCode: status, Cause: err}
		}
	}
	return resp.Text, usage, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
