package policy

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lattice/internal/scheduler"
)

func TestLoad(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "policy.cue"))
	require.NoError(t, err)

	def := scheduler.DefaultConfig()
	assert.Equal(t, 0.4, cfg.Weights.Impact)
	assert.Equal(t, 0.3, cfg.Weights.Risk)
	assert.Equal(t, 0.05, cfg.Weights.Effort)
	assert.Equal(t, def.Weights.Novelty, cfg.Weights.Novelty, "unset weights keep defaults")

	assert.Equal(t, scheduler.Budget{
		CycleDuration:         30 * time.Second,
		MaxItemsPerCycle:      4,
		MaxConcurrentSessions: 2,
	}, cfg.Budget)
	assert.Equal(t, 6, cfg.MaxTurnsPerItem)
	assert.Equal(t, 2*time.Hour, cfg.DeadlineWindow)
	assert.Equal(t, def.DeadlineBoost, cfg.DeadlineBoost)

	assert.Equal(t, scheduler.Affinity{Primary: "critic", Secondary: []string{"adversary"}},
		cfg.Affinity[scheduler.WorkContradiction])
	assert.Equal(t, def.Affinity[scheduler.WorkSynthesis], cfg.Affinity[scheduler.WorkSynthesis])

	assert.Equal(t, 3, cfg.Scan.Backlog)
	assert.Equal(t, def.Scan.Hot, cfg.Scan.Hot)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.cue"))
	require.Error(t, err)
}

func TestCompileBytes_EmptyPolicyIsDefault(t *testing.T) {
	cfg, err := CompileBytes([]byte(`policy: {}`), "empty.cue")
	require.NoError(t, err)
	assert.Equal(t, scheduler.DefaultConfig(), cfg)
}

func TestCompileBytes_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"missing policy", `other: 1`, "policy"},
		{"unknown top-level field", `policy: colour: "blue"`, "policy.colour"},
		{"unknown weight", `policy: weights: charm: 0.1`, "weights.charm"},
		{"negative weight", `policy: weights: risk: -0.5`, "weights.risk"},
		{"non-positive budget", `policy: budget: maxItemsPerCycle: 0`, "budget.maxItemsPerCycle"},
		{"bad duration", `policy: budget: cycleDuration: "soon"`, "budget.cycleDuration"},
		{"boost out of range", `policy: deadlineBoost: 1.5`, "deadlineBoost"},
		{"unknown work type", `policy: affinity: daydream: primary: "critic"`, "affinity.daydream"},
		{"missing primary", `policy: affinity: synthesis: secondary: ["critic"]`, "affinity.synthesis.primary"},
		{"string for int", `policy: maxTurnsPerItem: "eight"`, "maxTurnsPerItem"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileBytes([]byte(tt.src), "bad.cue")
			require.Error(t, err)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileBytes_ErrorHasPosition(t *testing.T) {
	src := "policy: {\n\tmaxTurnsPerItem: -2\n}\n"
	_, err := CompileBytes([]byte(src), "pos.cue")
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	require.True(t, ce.Pos.IsValid())
	assert.Equal(t, 2, ce.Pos.Line())
	assert.Contains(t, ce.Error(), "pos.cue:2:")
}

func TestCompileBytes_SyntaxError(t *testing.T) {
	_, err := CompileBytes([]byte("policy: {"), "broken.cue")
	require.Error(t, err)
}
