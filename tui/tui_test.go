package tui

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasTTY(t *testing.T) {
	assert.Contains(t, []bool{true, false}, HasTTY)
}

func TestNewPrinterBuffer(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, NewPrinter(&buf).color)
}

func TestMessages(t *testing.T) {
	var buf bytes.Buffer
	p := Plain(&buf)
	p.Success("stored %s", "candle_1")
	p.Warning("missing %d", 2)
	p.Error("failed")
	p.Muted("no keys")
	assert.Equal(t, " ✓ stored candle_1\n ✕ missing 2\n ⚠ failed\nno keys\n", buf.String())
}

func TestPlainTable(t *testing.T) {
	var buf bytes.Buffer
	Plain(&buf).Table([]string{"KEY", "SIZE"}, [][]string{{"a", "10"}, {"b", "20"}})
	assert.Equal(t, "KEY\tSIZE\na\t10\nb\t20\n", buf.String())
}

func TestSpinWithoutTerminal(t *testing.T) {
	var ran bool
	require.NoError(t, Plain(&bytes.Buffer{}).Spin(context.Background(), "working", func() { ran = true }))
	assert.True(t, ran)
}
