// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package rtlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{out: &buf, minLevel: LvlWarn}
	l.Info("should not appear")
	require.Empty(t, buf.String())
	l.Warn("should appear")
	require.Contains(t, buf.String(), "should appear")
}

func TestKeyValueFormatting(t *testing.T) {
	require.Equal(t, "a=1 b=2", formatKV([]interface{}{"a", 1, "b", 2}))
	require.Equal(t, "", formatKV(nil))
}

func TestLogIncludesMessage(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{out: &buf, minLevel: LvlDebug}
	l.Error("boom", "code", 42)
	line := buf.String()
	require.True(t, strings.Contains(line, "boom"))
	require.True(t, strings.Contains(line, "code=42"))
}
