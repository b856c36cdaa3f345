// Package orchestration combines roster results into final verdicts.
package orchestration

import (
	"math"
	"sort"

	"github.com/jonathan/match-orchestrator/internal/agents"
	"github.com/jonathan/match-orchestrator/internal/types"
)

// Weights maps each scoring kind to its share of the composite score.
type Weights map[agents.Kind]float64

// DefaultWeights sum to 1.0.
var DefaultWeights = Weights{
	agents.TechnicalSkills:   0.25,
	agents.ExperienceDepth:   0.25,
	agents.Achievements:      0.20,
	agents.Education:         0.10,
	agents.SoftSkills:        0.10,
	agents.CareerProgression: 0.10,
}

// Total returns the sum of all weights.
func (w Weights) Total() float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	return total
}

// categoryLabels are the human names of the scoring kinds.
var categoryLabels = map[agents.Kind]string{
	agents.TechnicalSkills:   "Technical skills",
	agents.ExperienceDepth:   "Experience depth",
	agents.Achievements:      "Achievements",
	agents.Education:         "Education",
	agents.SoftSkills:        "Soft skills",
	agents.CareerProgression: "Career progression",
}

// CategoryLabel returns the display name of a scoring kind.
func CategoryLabel(k agents.Kind) string {
	if l, ok := categoryLabels[k]; ok {
		return l
	}
	return string(k)
}

// Categories are ordered from best to worst and cover 0-100 without gaps.
var Categories = []types.ScoreCategory{
	{
		Name: "exceptional", Min: 90, Max: 100, Label: "Exceptional match",
		Description:       "The candidate meets or exceeds nearly every requirement of the role.",
		RecommendedAction: "Fast-track to final interviews.",
	},
	{
		Name: "strong", Min: 80, Max: 89, Label: "Strong match",
		Description:       "The candidate covers the core requirements with few minor gaps.",
		RecommendedAction: "Advance to technical interviews.",
	},
	{
		Name: "good", Min: 70, Max: 79, Label: "Good match",
		Description:       "The candidate fits most requirements; some areas need verification.",
		RecommendedAction: "Proceed with a screening interview focused on the gaps.",
	},
	{
		Name: "fair", Min: 60, Max: 69, Label: "Fair match",
		Description:       "The candidate fits part of the role with notable gaps.",
		RecommendedAction: "Consider for the pipeline if stronger candidates are scarce.",
	},
	{
		Name: "weak", Min: 40, Max: 59, Label: "Weak match",
		Description:       "The candidate misses several important requirements.",
		RecommendedAction: "Do not advance for this role; consider a more junior or adjacent role.",
	},
	{
		Name: "poor", Min: 0, Max: 39, Label: "Poor match",
		Description:       "The candidate's background does not align with the role.",
		RecommendedAction: "Decline for this role.",
	},
}

// CategoryFor maps a score to its category. Out-of-range scores are clamped.
func CategoryFor(score int) types.ScoreCategory {
	score = clampScore(score)
	for _, c := range Categories {
		if score >= c.Min && score <= c.Max {
			return c
		}
	}
	return Categories[len(Categories)-1]
}

// CalculatedScore is the weighted mean of scores over the weighted kinds present.
// Returns 0 when no weighted kind has a score.
func CalculatedScore(scores map[agents.Kind]float64, weights Weights) float64 {
	sum, totalWeight := 0.0, 0.0
	for _, kind := range weights.kinds() {
		w := weights[kind]
		s, ok := scores[kind]
		if !ok {
			continue
		}
		sum += clampFloat(s) * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / totalWeight
}

// Reconcile picks the final score: the model's number when it lies within
// threshold of calculated, otherwise calculated. The result is rounded.
func Reconcile(model *float64, calculated, threshold float64) (final int, overridden bool) {
	if model == nil {
		return clampScore(int(math.Round(calculated))), false
	}
	if math.Abs(*model-calculated) > threshold {
		return clampScore(int(math.Round(calculated))), true
	}
	return clampScore(int(math.Round(*model))), false
}

// kinds returns the weighted kinds in roster order, then any others by name.
func (w Weights) kinds() []agents.Kind {
	out := make([]agents.Kind, 0, len(w))
	for _, k := range agents.ScoringKinds {
		if _, ok := w[k]; ok {
			out = append(out, k)
		}
	}
	var extra []agents.Kind
	for k := range w {
		if _, ok := categoryLabels[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

func clampFloat(s float64) float64 {
	return math.Max(0, math.Min(100, s))
}
