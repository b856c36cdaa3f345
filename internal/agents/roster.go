// Package agents runs narrowly-scoped assessments ("agents") and fans a roster
// of them out concurrently.
package agents

import (
	"encoding/json"
	"fmt"
)

// Kind identifies one agent.
type Kind string

// Scoring roster: six category scorers and two analyses.
const (
	TechnicalSkills   Kind = "technical-skills"
	ExperienceDepth   Kind = "experience-depth"
	Achievements      Kind = "achievements"
	Education         Kind = "education"
	SoftSkills        Kind = "soft-skills"
	CareerProgression Kind = "career-progression"
	Strengths         Kind = "strengths"
	Weaknesses        Kind = "weaknesses"
)

// Tailoring roster.
const (
	TailorSkills                   Kind = "tailor-skills"
	TailorExperienceReframing      Kind = "tailor-experience-reframing"
	TailorAchievementAmplification Kind = "tailor-achievement-amplification"
	TailorKeywordOptimization      Kind = "tailor-keyword-optimization"
	TailorSummary                  Kind = "tailor-summary"
	TailorEducation                Kind = "tailor-education"
	TailorGapMitigation            Kind = "tailor-gap-mitigation"
	TailorIndustryAlignment        Kind = "tailor-industry-alignment"
)

// Output classifies what an agent produces.
type Output int

const (
	// OutputScore is a 0-100 category score with reasoning.
	OutputScore Output = iota
	// OutputAnalysis is a qualitative list with no numeric score.
	OutputAnalysis
	// OutputSuggestions is a set of tailoring suggestions for one section.
	OutputSuggestions
)

// Definition binds an agent kind to its template.
type Definition struct {
	Kind       Kind
	TemplateID string
	Output     Output
	// Section names the document section a tailoring agent works on.
	Section string
}

// Roster is a fixed set of agents run together over the same inputs.
type Roster struct {
	Name   string
	Agents []Definition
	// Variables are the template variables every agent in the roster receives.
	Variables []string
}

// Kinds returns the roster's kinds in order.
func (r Roster) Kinds() []Kind {
	out := make([]Kind, len(r.Agents))
	for i, d := range r.Agents {
		out[i] = d.Kind
	}
	return out
}

// Template variable names supplied by the pipelines.
const (
	VarJobPosting       = "JobPosting"
	VarCandidateProfile = "CandidateProfile"
	VarDocument         = "Document"
	VarScoringAnalysis  = "ScoringAnalysis"
	VarUserRequest      = "UserRequest"
)

// ScoringKinds are the six kinds that produce a numeric category score.
var ScoringKinds = []Kind{TechnicalSkills, ExperienceDepth, Achievements, Education, SoftSkills, CareerProgression}

// ScoringRoster returns the candidate-to-job scoring roster.
func ScoringRoster() Roster {
	defs := make([]Definition, 0, 8)
	for _, k := range ScoringKinds {
		defs = append(defs, Definition{Kind: k, TemplateID: string(k), Output: OutputScore})
	}
	defs = append(defs,
		Definition{Kind: Strengths, TemplateID: string(Strengths), Output: OutputAnalysis},
		Definition{Kind: Weaknesses, TemplateID: string(Weaknesses), Output: OutputAnalysis},
	)
	return Roster{
		Name:      "scoring",
		Agents:    defs,
		Variables: []string{VarJobPosting, VarCandidateProfile},
	}
}

// TailoringRoster returns the document tailoring roster.
func TailoringRoster() Roster {
	section := func(k Kind, s string) Definition {
		return Definition{Kind: k, TemplateID: string(k), Output: OutputSuggestions, Section: s}
	}
	return Roster{
		Name: "tailoring",
		Agents: []Definition{
			section(TailorSkills, "skills"),
			section(TailorExperienceReframing, "experience"),
			section(TailorAchievementAmplification, "achievements"),
			section(TailorKeywordOptimization, "keywords"),
			section(TailorSummary, "summary"),
			section(TailorEducation, "education"),
			section(TailorGapMitigation, "gaps"),
			section(TailorIndustryAlignment, "industry"),
		},
		Variables: []string{VarDocument, VarJobPosting, VarScoringAnalysis, VarUserRequest},
	}
}

// ScoreOutput is the reply of a scoring agent.
type ScoreOutput struct {
	Score     float64  `json:"score"`
	Reasoning string   `json:"reasoning"`
	Evidence  []string `json:"evidence,omitempty"`
	Gaps      []string `json:"gaps,omitempty"`
}

// fallbackOutput builds the conservative output used when an agent fails.
func fallbackOutput(def Definition, fallbackScore float64, cause string) json.RawMessage {
	var v any
	switch def.Output {
	case OutputScore:
		v = ScoreOutput{
			Score:     fallbackScore,
			Reasoning: fmt.Sprintf("Assessment unavailable (%s); a conservative score of %.0f was applied.", cause, fallbackScore),
		}
	case OutputAnalysis:
		key := "strengths"
		if def.Kind == Weaknesses {
			key = "weaknesses"
		}
		v = map[string][]any{key: {}}
	default:
		v = map[string]any{"section": def.Section, "suggestions": []any{}}
	}
	data, _ := json.Marshal(v)
	return data
}
