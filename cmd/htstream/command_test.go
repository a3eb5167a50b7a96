package main

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// executeCommand runs a cobra command with args, returning output and error.
// Cobra always dispatches Execute through the root command, so the output
// writers and args must be set on the root, with the subcommand's name
// prepended to route to it.
func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root := cmd.Root()
	root.SetOut(buf)
	root.SetErr(buf)
	if root == cmd {
		root.SetArgs(args)
	} else {
		root.SetArgs(append([]string{cmd.Name()}, args...))
	}
	err := root.Execute()
	return buf.String(), err
}

// captureStdout executes fn while capturing stdout, returning the captured
// output. Stdout is restored even if fn panics.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err, "pipe creation MUST succeed")
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	fn()

	w.Close()
	out, _ := io.ReadAll(r)
	return string(out)
}
