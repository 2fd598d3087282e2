package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSON(t *testing.T) {
	tests := []struct {
		name       string
		write      func(f *OutputFormatter) error
		wantStatus string
		wantCode   string
	}{
		{
			name:       "success",
			write:      func(f *OutputFormatter) error { return f.Success(map[string]int{"events": 3}) },
			wantStatus: "ok",
		},
		{
			name:       "error",
			write:      func(f *OutputFormatter) error { return f.Error(ErrCodePolicy, "invalid policy", nil) },
			wantStatus: "error",
			wantCode:   ErrCodePolicy,
		},
		{
			name: "error with details",
			write: func(f *OutputFormatter) error {
				return f.Error(ErrCodeNotFound, "no journal history", map[string]string{"dtu": "dtu_9"})
			},
			wantStatus: "error",
			wantCode:   ErrCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			require.NoError(t, tt.write(&OutputFormatter{Format: "json", Writer: buf}))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			if tt.wantCode == "" {
				assert.Nil(t, resp.Error)
				assert.NotNil(t, resp.Data)
				return
			}
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestOutputFormatter_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Success("policy.cue is valid"))
	require.NoError(t, f.Error(ErrCodePolicy, "invalid policy", map[string]string{"field": "weights.risk"}))

	assert.Contains(t, buf.String(), "policy.cue is valid\n")
	assert.Contains(t, buf.String(), "Error [E_POLICY]: invalid policy")
	assert.NotContains(t, buf.String(), "Details:")

	buf.Reset()
	f.Verbose = true
	require.NoError(t, f.Error(ErrCodePolicy, "invalid policy", map[string]string{"field": "weights.risk"}))
	assert.Contains(t, buf.String(), "Details: map[field:weights.risk]")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		errW    bool
		wantOut string
		wantErr string
	}{
		{"disabled", false, true, "", ""},
		{"to err writer", true, true, "", "replayed 3 event(s)\n"},
		{"falls back to writer", true, false, "replayed 3 event(s)\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			errOut := &bytes.Buffer{}
			f := &OutputFormatter{Format: "json", Writer: out, Verbose: tt.verbose}
			if tt.errW {
				f.ErrWriter = errOut
			}

			f.VerboseLog("replayed %d event(s)", 3)
			assert.Equal(t, tt.wantOut, out.String())
			assert.Equal(t, tt.wantErr, errOut.String())
		})
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"failure", NewExitError(ExitFailure, "scenario failed"), ExitFailure},
		{"command error", NewExitError(ExitCommandError, "database not found"), ExitCommandError},
		{"wrapped", fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "open", errors.New("denied"))), ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "scenario failed", NewExitError(ExitFailure, "scenario failed").Error())

	inner := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "failed to archive journal", inner)
	assert.Equal(t, "failed to archive journal: disk full", err.Error())
	assert.ErrorIs(t, err, inner)
}
