package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	l, err := New(true, true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New(false, false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestTruncateForLog(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"short", "hello", 10, "hello"},
		{"trimmed", "  hello  ", 10, "hello"},
		{"truncated", "hello world", 5, "hello..."},
		{"zero limit", "hello", 0, ""},
		{"multibyte", "héllo wörld", 4, "héll..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateForLog(tt.in, tt.limit))
		})
	}
}

func TestStringFields_SkipsEmpty(t *testing.T) {
	fields := StringFields(
		StringField{Key: "a", Value: "1"},
		StringField{Key: "", Value: "2"},
		StringField{Key: "c", Value: "  "},
	)
	require.Len(t, fields, 1)
	assert.Equal(t, "a", fields[0].Key)
}

func TestWithFields_NilLogger(t *testing.T) {
	l := WithFields(nil, zap.String("k", "v"))
	require.NotNil(t, l)
	l.Info("does not panic")
}

func TestAgentFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := WithFields(zap.New(core), AgentFields("technical_skills", "score-technical-skills", "")...)
	l.Info("done")

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "technical_skills", ctx[FieldAgent])
	assert.Equal(t, "score-technical-skills", ctx[FieldTemplate])
	_, hasUser := ctx[FieldUser]
	assert.False(t, hasUser)
}
