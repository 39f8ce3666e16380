package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/kiosklab/corelink/pkg/diag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]int{"count": 2}))
	assert.Equal(t, "{\n  \"count\": 2\n}\n", buf.String())
}

func TestPrintRecords(t *testing.T) {
	var buf bytes.Buffer
	records := []diag.Record{
		{ID: "2abc", Op: "person", CreatedAt: time.Date(2024, 6, 30, 12, 0, 0, 0, time.Local)},
	}
	require.NoError(t, printRecords(&buf, records))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "person")
	assert.Contains(t, lines[1], "2024-06-30 12:00:00")
}
