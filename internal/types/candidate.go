// Package types provides type definitions for structured data used throughout the match orchestrator.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// CandidateProfile is the structured profile of a candidate
type CandidateProfile struct {
	Name            string       `json:"name,omitempty"`
	Headline        string       `json:"headline,omitempty"`
	Summary         string       `json:"summary,omitempty"`
	YearsExperience float64      `json:"years_experience,omitempty" validate:"gte=0,lte=70"`
	Skills          []string     `json:"skills,omitempty" validate:"dive,required"`
	Experience      []Experience `json:"experience,omitempty" validate:"dive"`
	Education       []Education  `json:"education,omitempty" validate:"dive"`
	Certifications  []string     `json:"certifications,omitempty"`
	Achievements    []string     `json:"achievements,omitempty"`
	// ResumeText is the free-text resume when no structured profile exists.
	ResumeText string `json:"resume_text,omitempty"`
}

// Experience is one position in a candidate's work history
type Experience struct {
	Title      string   `json:"title" validate:"required"`
	Company    string   `json:"company" validate:"required"`
	StartDate  string   `json:"start_date,omitempty"` // YYYY-MM
	EndDate    string   `json:"end_date,omitempty"`   // YYYY-MM or "present"
	Highlights []string `json:"highlights,omitempty"`
}

// Education is one degree or program
type Education struct {
	Degree      string `json:"degree" validate:"required"`
	Field       string `json:"field,omitempty"`
	Institution string `json:"institution,omitempty"`
	Year        int    `json:"year,omitempty" validate:"omitempty,gte=1900,lte=2100"`
}

// ErrEmptyProfile is returned for a profile with nothing to evaluate.
var ErrEmptyProfile = errors.New("candidate profile has no skills, experience or resume text")

// Validate validates the CandidateProfile using the validator.
func (p *CandidateProfile) Validate() error {
	if len(p.Skills) == 0 && len(p.Experience) == 0 && strings.TrimSpace(p.ResumeText) == "" {
		return ErrEmptyProfile
	}
	validate := validator.New()
	return validate.Struct(p)
}

// ForPrompt renders the profile as indented JSON for template variables.
func (p *CandidateProfile) ForPrompt() string {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
