package printer

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title when including suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title for multiple suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})
}

func TestErrorWithContext(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		context := map[string]string{
			"Workspace": "/path/to/workspace",
			"Instance":  "test-instance",
		}
		err := ErrorWithContext("Test Error", "Explanation", context, []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title when including suggestions", func(t *testing.T) {
		context := map[string]string{"Key": "Value"}
		err := ErrorWithContext("Test Error", "Explanation", context, []string{"Fix it"})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})
}

// Note: The Error and ErrorWithContext functions print formatted output to stderr
// with colors. The error object returned only contains the title for Cobra's error handling.
// This is intentional to avoid duplicate output while providing rich formatted errors.

func TestTableTo(t *testing.T) {
	var buf bytes.Buffer
	err := TableTo(&buf, []string{"Agent", "Status"}, [][]string{
		{"author", "idle"},
		{"illustrator", "busy"},
	})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "author")
	require.Contains(t, out, "illustrator")
	require.Contains(t, out, "busy")
}

func TestState(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	require.Equal(t, "idle", State("idle"))
	require.Equal(t, "unreachable", State("unreachable"))
	require.Equal(t, "other", State("other"))
}

func TestErrorWithContext_WritesSortedContext(t *testing.T) {
	var buf bytes.Buffer
	ErrOut = &buf
	defer func() { ErrOut = os.Stderr }()

	_ = ErrorWithContext("Workflow failed", "", map[string]string{
		"Phase":          "illustration",
		"Correlation ID": "c-1",
	}, []string{"Retry", "Raise the timeout"})

	out := buf.String()
	require.Less(t, strings.Index(out, "Correlation ID"), strings.Index(out, "Phase"))
	require.Contains(t, out, "Either:\n  1. Retry\n  2. Raise the timeout\n")
}

func TestSuccess_WritesToOut(t *testing.T) {
	var buf bytes.Buffer
	Out = &buf
	defer func() { Out = os.Stdout }()

	color.NoColor = true
	defer func() { color.NoColor = false }()

	Success("Story ready\n")
	require.Equal(t, "✓ Story ready\n", buf.String())
}
