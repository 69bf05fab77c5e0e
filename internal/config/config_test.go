// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeOverridesDefaults(t *testing.T) {
	doc := `
[JIT]
Enabled = false
HotThreshold = 10
`
	cfg, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	require.False(t, cfg.JIT.Enabled)
	require.Equal(t, uint32(10), cfg.JIT.HotThreshold)
	require.Equal(t, Default().GC.NurseryThreshold, cfg.GC.NurseryThreshold)
}

func TestDecodeRejectsUnknownField(t *testing.T) {
	doc := `
[JIT]
Bogus = true
`
	_, err := Decode(strings.NewReader(doc))
	require.Error(t, err)
}

func TestDecodeEmptyDocumentKeepsDefaults(t *testing.T) {
	cfg, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}
