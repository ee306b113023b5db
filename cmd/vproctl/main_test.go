package main

import (
	"bytes"
	"testing"

	"github.com/KevinKickass/vprocontrol/internal/vpro"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintMatrix(t *testing.T) {
	state := &vpro.MatrixState{
		Connections: []vpro.Connection{
			{Target: 0, Sources: []int{3}},
			{Target: 1, Sources: []int{}},
		},
		TargetLabels: map[int]string{0: "Program"},
	}

	var buf bytes.Buffer
	require.NoError(t, printMatrix(&buf, state))

	out := buf.String()
	assert.Contains(t, out, "TARGET")
	assert.Contains(t, out, "Program")
	assert.Contains(t, out, "3 (Source 3)")
	assert.Contains(t, out, "Target 1")
}

func TestPrintMatrixEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printMatrix(&buf, &vpro.MatrixState{}))
	assert.Equal(t, "no connections\n", buf.String())
}

func TestPrintSinkFilter(t *testing.T) {
	all := &printSink{}
	assert.True(t, all.wants("Studio"))

	some := &printSink{only: lowerAll([]string{"Studio"})}
	assert.True(t, some.wants("STUDIO"))
	assert.False(t, some.wants("Gallery"))
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"devices", "matrix", "connect", "watch"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}
