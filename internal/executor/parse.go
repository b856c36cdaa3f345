package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jonathan/match-orchestrator/internal/llm"
	"github.com/jonathan/match-orchestrator/internal/prompts"
	"github.com/jonathan/match-orchestrator/internal/schemas"
)

// ParseJSON extracts the JSON object from a reply and validates it against
// the named schema. Code fences and surrounding prose are tolerated.
func ParseJSON(text, schema string) (json.RawMessage, error) {
	cleaned := llm.FindJSONObject(text)
	if cleaned == "" {
		return nil, &ValidationError{Message: "reply contains no JSON object"}
	}

	if schema != "" {
		if err := schemas.Validate(schema, cleaned); err != nil {
			var ve *schemas.ValidationError
			if errors.As(err, &ve) {
				return nil, &ValidationError{Message: fmt.Sprintf("does not match schema %s", schema), Fields: ve.Errors, Cause: err}
			}
			return nil, err
		}
	}
	return json.RawMessage(cleaned), nil
}

// ParseSections extracts <name>...</name> sections from a text reply. Only the
// declared names are looked at; a missing required section is a validation
// failure. Section bodies are trimmed.
func ParseSections(text string, sections, required []string) (map[string]string, error) {
	out := make(map[string]string, len(sections))
	for _, name := range sections {
		re := regexp.MustCompile(`(?s)<` + regexp.QuoteMeta(name) + `>(.*?)</` + regexp.QuoteMeta(name) + `>`)
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		out[name] = strings.TrimSpace(m[1])
	}

	var missing []string
	for _, name := range required {
		if strings.TrimSpace(out[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Message: "missing sections " + strings.Join(missing, ", ")}
	}
	return out, nil
}

// parseReply applies the parser strategy declared by the template.
func parseReply(t prompts.Template, text string) (json.RawMessage, map[string]string, error) {
	switch t.Shape {
	case prompts.ShapeText:
		sections, err := ParseSections(text, t.Sections, t.RequiredSections)
		return nil, sections, err
	default:
		data, err := ParseJSON(text, t.Schema)
		return data, nil, err
	}
}
