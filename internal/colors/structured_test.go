package colors

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructuredLogIsGatedByDebugMode(t *testing.T) {
	var errOut bytes.Buffer
	defer SetOutput(&bytes.Buffer{}, &errOut)()
	defer SetDebug(DebugEnabled())

	SetDebug(false)
	StructuredInfo("startup", "main", "started", nil, nil)
	require.Empty(t, errOut.String())

	SetDebug(true)
	StructuredError("startup", "main", "failed", errors.New("boom"), map[string]any{"args": 2})

	var entry StructuredLogEntry
	require.NoError(t, json.Unmarshal(errOut.Bytes(), &entry))
	require.Equal(t, LevelError, entry.Level)
	require.Equal(t, "startup", entry.Component)
	require.Equal(t, "boom", entry.Error)
	require.EqualValues(t, 2, entry.Fields["args"])
}

func TestStructuredLoggingCanBeDisabled(t *testing.T) {
	var errOut bytes.Buffer
	defer SetOutput(&bytes.Buffer{}, &errOut)()
	defer SetDebug(DebugEnabled())
	SetDebug(true)
	DisableStructuredLogging()
	defer EnableStructuredLogging()

	StructuredInfo("watch", "render", "skipped", nil, nil)
	require.Empty(t, errOut.String())
}
