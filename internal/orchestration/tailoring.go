package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/jonathan/match-orchestrator/internal/agents"
	"github.com/jonathan/match-orchestrator/internal/executor"
	"github.com/jonathan/match-orchestrator/internal/types"
)

// Sections of the tailoring orchestration reply.
const (
	SectionFinalDocument = "final_document"
	SectionChangeSummary = "change_summary"
)

// Suggestions decodes the tailoring roster's outputs in roster order.
// Outputs that cannot be decoded count as fallbacks with no suggestions.
func Suggestions(set *agents.ResultSet) []types.SectionSuggestions {
	out := make([]types.SectionSuggestions, 0, len(set.Order))
	for _, res := range set.Ordered() {
		var s types.SectionSuggestions
		if err := json.Unmarshal(res.Output, &s); err != nil {
			s = types.SectionSuggestions{IsFallback: true}
		}
		s.Agent = string(res.Kind)
		s.IsFallback = s.IsFallback || res.IsFallback
		if s.Suggestions == nil {
			s.Suggestions = []types.TailoringSuggestion{}
		}
		out = append(out, s)
	}
	return out
}

func countSuggestions(sections []types.SectionSuggestions) int {
	n := 0
	for _, s := range sections {
		n += len(s.Suggestions)
	}
	return n
}

// Merge produces the tailored document from a tailoring result set. in.Vars
// must carry the tailoring roster's variables; original is the untouched
// document. The error is non-nil only for a *executor.TemplateError; a failed
// orchestration call returns original with the suggestions listed as not
// applied.
func (a *Aggregator) Merge(ctx context.Context, set *agents.ResultSet, in agents.Input, original string) (*types.TailoringResult, types.UsageTotals, error) {
	start := a.now()
	sections := Suggestions(set)

	result := &types.TailoringResult{
		EvaluationID: in.EvaluationID,
		Suggestions:  sections,
	}

	// Nothing to merge and nothing asked for: the document stands as is.
	if countSuggestions(sections) == 0 && strings.TrimSpace(in.Vars[agents.VarUserRequest]) == "" {
		result.FinalDocument = original
		result.ChangeSummary = "No changes were suggested."
		result.CreatedAt = a.now().UTC()
		result.ExecutionSummary = a.summarize(set, types.ExecutionSummary{}, start)
		a.metrics.ObserveOrchestration("tailoring", ModeSkipped)
		return result, totals(set, TailoringTemplate, nil), nil
	}

	payload, err := json.MarshalIndent(sections, "", "  ")
	if err != nil {
		return nil, types.UsageTotals{}, fmt.Errorf("failed to encode agent suggestions: %w", err)
	}
	vars := maps.Clone(in.Vars)
	if vars == nil {
		vars = map[string]string{}
	}
	vars[VarAgentSuggestions] = string(payload)
	vars[VarMaxLength] = strconv.Itoa(a.opts.MaxDocumentLength)

	out, err := a.exec.Execute(ctx, TailoringTemplate, vars, executor.Call{UserID: in.UserID, MaxTokens: a.opts.TailoringMaxTokens})
	if err != nil {
		return nil, types.UsageTotals{}, err
	}
	orchUsage := a.record(ctx, "tailoring", TailoringTemplate, in, out, start)

	mode := ModeModel
	final := strings.TrimSpace(out.Sections[SectionFinalDocument])
	if out.Success && final != "" {
		result.FinalDocument, result.Truncated = TruncateRunes(final, a.opts.MaxDocumentLength)
		result.ChangeSummary = strings.TrimSpace(out.Sections[SectionChangeSummary])
		if result.Truncated {
			a.logger.Warn("tailored document truncated",
				zap.Int("max_length", a.opts.MaxDocumentLength),
				zap.Int("length", utf8.RuneCountInString(final)))
		}
	} else {
		mode = ModeLocalFallback
		a.logger.Warn("tailoring orchestration failed, returning original document",
			zap.String("error_kind", executor.Kind(out.Err)),
			zap.Error(out.Err))
		result.FinalDocument = original
		result.ChangeSummary = unappliedSummary(sections)
		result.ExecutionSummary.LocalFallback = true
	}

	result.CreatedAt = a.now().UTC()
	result.ExecutionSummary = a.summarize(set, result.ExecutionSummary, start)
	a.metrics.ObserveOrchestration("tailoring", mode)
	return result, totals(set, TailoringTemplate, &orchUsage), nil
}

// TruncateRunes cuts s to at most limit runes, preferring the last line break
// in the final tenth of the allowance.
func TruncateRunes(s string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	runes := []rune(s)
	cut := string(runes[:limit])
	if i := strings.LastIndexByte(cut, '\n'); i >= 0 && utf8.RuneCountInString(cut[:i]) >= limit*9/10 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \t\n"), true
}

// unappliedSummary lists every suggestion as not applied.
func unappliedSummary(sections []types.SectionSuggestions) string {
	var b strings.Builder
	b.WriteString("The document could not be merged automatically; no changes were applied.")
	for _, s := range sections {
		for _, sug := range s.Suggestions {
			fmt.Fprintf(&b, "\n- [not applied] %s: %s", s.Section, sug.Change)
		}
	}
	return b.String()
}
