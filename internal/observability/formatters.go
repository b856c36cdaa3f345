// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jonathan/match-orchestrator/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// writeList writes up to limit items as bullets, noting how many were left out.
func writeList(sb *strings.Builder, heading string, items []string, limit int) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(heading + ":\n")
	for _, item := range items[:min(len(items), limit)] {
		sb.WriteString(fmt.Sprintf("  • %s\n", item))
	}
	if len(items) > limit {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(items)-limit))
	}
	sb.WriteString("\n")
}

// PrintScoreResult outputs the verdict, the per-agent breakdown, and the
// headline findings of a scoring run.
func (p *Printer) PrintScoreResult(res *types.OrchestrationResult) {
	if res == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Score:    %d/100 (%s)\n", res.OverallScore, res.Category.Label))
	if res.Category.RecommendedAction != "" {
		sb.WriteString(fmt.Sprintf("Action:   %s\n", res.Category.RecommendedAction))
	}
	if res.HiringRecommendation != "" {
		sb.WriteString(fmt.Sprintf("Verdict:  %s\n", res.HiringRecommendation))
	}
	sb.WriteString("\n")

	writeList(&sb, "Key strengths", res.KeyStrengths, maxItemsToShow)
	writeList(&sb, "Key weaknesses", res.KeyWeaknesses, maxItemsToShow)
	writeList(&sb, "Red flags", res.RedFlags, 3)
	writeList(&sb, "Interview focus", res.InterviewFocus, 3)

	p.printBox("MATCH VERDICT", strings.TrimSuffix(sb.String(), "\n\n"))
	p.PrintBreakdown(res)
}

// PrintBreakdown outputs the weighted score of every scoring agent, heaviest first.
func (p *Printer) PrintBreakdown(res *types.OrchestrationResult) {
	if res == nil || len(res.Breakdown) == 0 {
		return
	}

	names := make([]string, 0, len(res.Breakdown))
	for name := range res.Breakdown {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := res.Breakdown[names[i]], res.Breakdown[names[j]]
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		return names[i] < names[j]
	})

	var sb strings.Builder
	for _, name := range names {
		s := res.Breakdown[name]
		line := fmt.Sprintf("%-22s %5.1f  x%.2f", name, s.Score, s.Weight)
		if s.IsFallback {
			line += "  (fallback)"
		}
		sb.WriteString(line + "\n")
	}
	sum := res.ExecutionSummary
	sb.WriteString(fmt.Sprintf("\nCalculated: %d", sum.CalculatedScore))
	if sum.ModelScore != nil {
		sb.WriteString(fmt.Sprintf("  Model: %d", *sum.ModelScore))
	}
	if sum.ScoreOverridden {
		sb.WriteString("  (overridden)")
	}

	p.printBox("SCORE BREAKDOWN", sb.String())
}

// PrintWeaknesses outputs the weaknesses with their severity.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintWeaknesses(weaknesses []types.Weakness) {
	if len(weaknesses) == 0 {
		fmt.Fprintf(p.out, "┌%s┐\n", strings.Repeat("─", boxWidth-2))
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, "✅ NO WEAKNESSES FOUND")
		fmt.Fprintf(p.out, "└%s┘\n", strings.Repeat("─", boxWidth-2))
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d weaknesses:\n\n", len(weaknesses)))
	for i, w := range weaknesses {
		sb.WriteString(fmt.Sprintf("⚠ %s", w.Title))
		if w.Severity != "" {
			sb.WriteString(fmt.Sprintf(" [%s]", w.Severity))
		}
		sb.WriteString("\n")
		if w.Description != "" {
			sb.WriteString(fmt.Sprintf("  %s\n", w.Description))
		}
		if i < len(weaknesses)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("WEAKNESSES", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintTailoringResult outputs the change summary and the suggestions each
// tailoring agent made.
func (p *Printer) PrintTailoringResult(res *types.TailoringResult) {
	if res == nil {
		return
	}

	var sb strings.Builder
	if res.ChangeSummary != "" {
		sb.WriteString(res.ChangeSummary + "\n\n")
	}
	for _, section := range res.Suggestions {
		if len(section.Suggestions) == 0 {
			continue
		}
		changes := make([]string, len(section.Suggestions))
		for i, s := range section.Suggestions {
			changes[i] = s.Change
		}
		writeList(&sb, fmt.Sprintf("%s (%s)", section.Section, section.Agent), changes, 3)
	}
	if res.Truncated {
		sb.WriteString("⚠ document was truncated before tailoring\n")
	}

	p.printBox("TAILORING CHANGES", strings.TrimSuffix(strings.TrimSuffix(sb.String(), "\n"), "\n"))
}

// PrintUsage outputs token and cost totals for a request.
func (p *Printer) PrintUsage(u types.UsageTotals) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Model calls:  %d\n", u.Calls))
	sb.WriteString(fmt.Sprintf("Tokens:       %d (prompt %d, completion %d)\n", u.TotalTokens, u.PromptTokens, u.CompletionTokens))
	if u.CachedTokens > 0 {
		sb.WriteString(fmt.Sprintf("Cached:       %d tokens\n", u.CachedTokens))
	}
	sb.WriteString(fmt.Sprintf("Cost:         $%.4f", u.Cost))
	if u.CostSavings > 0 {
		sb.WriteString(fmt.Sprintf("\nSaved:        $%.4f", u.CostSavings))
	}
	p.printBox("USAGE", sb.String())
}
