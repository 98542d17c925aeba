package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-tcp/internal/config"
)

func TestRootCmdRejectsBadArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no args", []string{}},
		{"two args", []string{"9000", "9001"}},
		{"not a number", []string{"abc"}},
		{"zero", []string{"0"}},
		{"too large", []string{"65536"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			cmd.SetOut(&bytes.Buffer{})

			err := cmd.Execute()
			require.Error(t, err)
			assert.ErrorIs(t, err, errUsage)
		})
	}
}

func TestRootCmdPortErrorIsConfigError(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"70000"})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.Execute()
	var cfgErr *config.Error
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, config.ErrInvalidPort)
}
