package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProfile(t *testing.T) {
	p, err := parseProfile([]byte(`{"name": "Jane Doe", "skills": ["Go", "SQL"], "years_experience": 6}`))
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", p.Name)
	assert.Equal(t, []string{"Go", "SQL"}, p.Skills)
	assert.Equal(t, 6.0, p.YearsExperience)

	p, err = parseProfile([]byte("\n  Jane Doe\n  Backend engineer, six years of Go\n"))
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\n  Backend engineer, six years of Go", p.ResumeText)
	assert.NoError(t, p.Validate())

	_, err = parseProfile([]byte(`{"skills": [`))
	assert.Error(t, err)
}

func TestParseJob(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		title     string
		wantTitle string
		wantDesc  string
	}{
		{
			name:      "json",
			data:      `{"title": "Backend Engineer", "description": "Build services"}`,
			wantTitle: "Backend Engineer",
			wantDesc:  "Build services",
		},
		{
			name:      "json with title override",
			data:      `{"title": "Engineer", "description": "Build services"}`,
			title:     "Staff Engineer",
			wantTitle: "Staff Engineer",
			wantDesc:  "Build services",
		},
		{
			name:      "text uses first line",
			data:      "Platform Engineer\n\nRun Kubernetes clusters.",
			wantTitle: "Platform Engineer",
			wantDesc:  "Platform Engineer\n\nRun Kubernetes clusters.",
		},
		{
			name:      "html with explicit title",
			data:      "<h1>Join us</h1><p>Write Go</p>",
			title:     "Go Developer",
			wantTitle: "Go Developer",
			wantDesc:  "<h1>Join us</h1><p>Write Go</p>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := parseJob([]byte(tt.data), tt.title)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, j.Title)
			assert.Equal(t, tt.wantDesc, j.Description)
			assert.NoError(t, j.Validate())
		})
	}
}

func TestReadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.txt")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0o644))

	data, err := readInput(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "from file", string(data))

	data, err = readInput("-", strings.NewReader("from stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", string(data))

	_, err = readInput(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}
