package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fmueller/voxserve/internal/cli"
	"github.com/stretchr/testify/require"
)

func TestIsUsageError(t *testing.T) {
	t.Parallel()

	require.True(t, isUsageError(errors.New(`unknown command "bad" for "voxserve"`)))
	require.True(t, isUsageError(errors.New(`invalid argument "abc" for "--port" flag: strconv.ParseInt: parsing "abc": invalid syntax`)))
	require.True(t, isUsageError(errors.New("flag needs an argument: --model")))
	require.True(t, isUsageError(errors.New("accepts 1 arg(s), received 0")))
	require.False(t, isUsageError(errors.New(`provision model: download model "large-v3-turbo": context deadline exceeded`)))
	require.False(t, isUsageError(nil))
}

func TestHelpTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		args []string
		want string
	}{
		{args: nil, want: "voxserve"},
		{args: []string{"--badflag"}, want: "voxserve serve"},
		{args: []string{"--port", "abc"}, want: "voxserve serve"},
		{args: []string{"badcmd"}, want: "voxserve"},
		{args: []string{"transcribe"}, want: "voxserve transcribe"},
		{args: []string{"transcribe", "--text"}, want: "voxserve transcribe"},
		{args: []string{"serve", "--port", "9000"}, want: "voxserve serve"},
		{args: []string{"setup", "--bogus"}, want: "voxserve setup"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, helpTarget(cli.NewRootCmd(), tt.args), "args %q", tt.args)
	}
}

func TestRunUsageErrorExitCode(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"--port", "abc"}, &stderr)

	require.Equal(t, exitUsage, code)
	require.Contains(t, stderr.String(), `invalid argument "abc"`)
	require.Contains(t, stderr.String(), "See 'voxserve serve --help'.")
}

func TestRunUnknownCommandPointsAtRoot(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"badcmd"}, &stderr)

	require.Equal(t, exitUsage, code)
	require.Contains(t, stderr.String(), `unknown command "badcmd"`)
	require.Contains(t, stderr.String(), "See 'voxserve --help'.")
}

func TestRunFailureExitCode(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"setup", "--model", "/no/such/model.bin", "--model-dir", t.TempDir(), "--no-progress"}, &stderr)

	require.Equal(t, exitFailure, code)
	require.Contains(t, stderr.String(), "voxserve: ")
	require.NotContains(t, stderr.String(), "--help")
}
