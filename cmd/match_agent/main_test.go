package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/match-orchestrator/internal/config"
	"github.com/jonathan/match-orchestrator/internal/server"
)

const testSecret = "cli-test-secret-that-is-long-enough"

// execute runs the root command in-process. Provider keys, storage and the
// JWT secret are cleared unless env sets them.
func execute(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	for _, name := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "DATABASE_URL", "REDIS_ADDR", "JWT_SECRET"} {
		t.Setenv(name, env[name])
	}
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag to its default so runs do not leak into each other.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

var withSecret = map[string]string{"JWT_SECRET": testSecret}

func TestTokenCommand(t *testing.T) {
	userID := uuid.New()
	out, err := execute(t, withSecret, "token", "--user", userID.String())
	require.NoError(t, err)

	assert.Contains(t, out, "user:  "+userID.String())
	var token string
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "token: "); ok {
			token = rest
		}
	}
	require.NotEmpty(t, token)

	claims, err := server.NewJWTService(config.JWTConfig{Secret: testSecret, ExpirationHours: 24}).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	_, err := execute(t, nil, "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
}

func TestTokenCommand_InvalidUser(t *testing.T) {
	_, err := execute(t, withSecret, "token", "--user", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid user ID")
}

func TestCachePurge_MemoryBackend(t *testing.T) {
	out, err := execute(t, nil, "cache", "purge")
	require.NoError(t, err)
	assert.Contains(t, out, "purged 0 expired entries")
}

func TestUsage_RequiresDatabase(t *testing.T) {
	_, err := execute(t, nil, "usage", "--evaluation", "eval-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestScore_RequiresAPIKey(t *testing.T) {
	dir := t.TempDir()
	profile := filepath.Join(dir, "profile.json")
	require.NoError(t, os.WriteFile(profile, []byte(`{"skills": ["Go"]}`), 0o644))

	_, err := execute(t, nil, "score", "--profile", profile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no API key")
}

func TestScore_MissingProfileFile(t *testing.T) {
	_, err := execute(t, nil, "score", "--profile", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestScore_JobSourcesAreExclusive(t *testing.T) {
	_, err := execute(t, nil, "score", "--job", "job.txt", "--job-url", "https://jobs.lever.co/acme/1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}
