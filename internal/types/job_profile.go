package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-playground/validator/v10"
)

// JobPosting represents a target job. Description may be plain text or HTML.
type JobPosting struct {
	ID                    string                 `json:"id,omitempty"`
	Title                 string                 `json:"title" validate:"required"`
	Company               string                 `json:"company,omitempty"`
	Industry              string                 `json:"industry,omitempty"`
	Seniority             string                 `json:"seniority,omitempty"`
	Description           string                 `json:"description" validate:"required"`
	Requirements          []Requirement          `json:"requirements,omitempty" validate:"dive"`
	NiceToHaves           []Requirement          `json:"nice_to_haves,omitempty" validate:"dive"`
	MinYearsExperience    float64                `json:"min_years_experience,omitempty" validate:"gte=0"`
	EducationRequirements *EducationRequirements `json:"education_requirements,omitempty"`
}

// Requirement represents a skill requirement with evidence
type Requirement struct {
	Skill    string `json:"skill" validate:"required"`
	Level    string `json:"level,omitempty"`
	Evidence string `json:"evidence,omitempty"`
}

// EducationRequirements represents the education requirements of a job posting
type EducationRequirements struct {
	MinDegree       string   `json:"min_degree,omitempty"`       // bachelor, master, phd, or empty
	PreferredFields []string `json:"preferred_fields,omitempty"` // e.g., ["Computer Science", "Data Science"]
	IsRequired      bool     `json:"is_required,omitempty"`      // True if degree is required, false if preferred
}

// Validate validates the JobPosting using the validator.
func (j *JobPosting) Validate() error {
	validate := validator.New()
	return validate.Struct(j)
}

var whitespaceRe = regexp.MustCompile(`[ \t]+`)
var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// PlainDescription returns the description as plain text, stripping markup
// when the description is HTML.
func (j *JobPosting) PlainDescription() string {
	desc := strings.TrimSpace(j.Description)
	if !strings.Contains(desc, "<") {
		return desc
	}
	text, err := htmlToText(desc)
	if err != nil {
		return desc
	}
	return text
}

// ForPrompt renders the posting as indented JSON for template variables,
// with the description reduced to plain text.
func (j *JobPosting) ForPrompt() string {
	c := *j
	c.Description = j.PlainDescription()
	data, err := json.MarshalIndent(&c, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	// Keep list items and paragraphs on their own lines
	doc.Find("li, p, br, h1, h2, h3, h4, div").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return cleanWhitespace(doc.Text()), nil
}

func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRe.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
