// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	for _, sub := range []string{"run", "drivers", "version"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "monisens")
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "config flag",
			args:     []string{"--config", "/path/to/config.yaml", "--help"},
			wantFlag: "/path/to/config.yaml",
		},
		{
			name:     "config flag with equals",
			args:     []string{"--config=/etc/monisens.yaml", "--help"},
			wantFlag: "/etc/monisens.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Reset global
			configFile = ""

			cmd := NewRootCmd()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_NoArgs(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
}

func TestRunCommand_Help(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"run", "--help"})

	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	require.NoError(t, cmd.Execute())

	output := buf.String()
	for _, flag := range []string{"--data-dir", "--drivers-dir", "--database-url", "--metrics-addr"} {
		assert.Contains(t, output, flag, "Run help missing %q flag", flag)
	}
}

func TestRunCommand_XDGDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")

	flags := NewRunCmd().Flags()
	dataDir := flags.Lookup("data-dir")
	require.NotNil(t, dataDir)
	assert.Equal(t, "/custom/data/monisens", dataDir.DefValue)

	driversDir := flags.Lookup("drivers-dir")
	require.NotNil(t, driversDir)
	assert.Equal(t, "/custom/data/monisens/drivers", driversDir.DefValue)
}

func TestUnknownCommand(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"nonexistent"})

	require.Error(t, cmd.Execute())
}
