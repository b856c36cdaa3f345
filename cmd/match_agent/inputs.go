package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jonathan/match-orchestrator/internal/types"
)

// readInput reads path, or stdin when path is "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// looksLikeJSON reports whether data is a JSON object.
func looksLikeJSON(data []byte) bool {
	return strings.HasPrefix(strings.TrimSpace(string(data)), "{")
}

// parseProfile accepts a JSON profile or a plain-text resume.
func parseProfile(data []byte) (*types.CandidateProfile, error) {
	if !looksLikeJSON(data) {
		return &types.CandidateProfile{ResumeText: strings.TrimSpace(string(data))}, nil
	}
	var p types.CandidateProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile JSON: %w", err)
	}
	return &p, nil
}

// parseJob accepts a JSON posting or a plain-text/HTML description. For text
// the title comes from title, or else the first non-blank line.
func parseJob(data []byte, title string) (*types.JobPosting, error) {
	if looksLikeJSON(data) {
		var j types.JobPosting
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("failed to parse job JSON: %w", err)
		}
		if title != "" {
			j.Title = title
		}
		return &j, nil
	}

	text := strings.TrimSpace(string(data))
	if title == "" {
		first, _, _ := strings.Cut(text, "\n")
		title = strings.TrimSpace(first)
	}
	return &types.JobPosting{Title: title, Description: text}, nil
}
