package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyIntegrity_Intact(t *testing.T) {
	l, _ := newTestLog(t)
	appendN(t, l, "g", 5)

	report, err := l.VerifyIntegrity("g")
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 5, report.Entries)
	assert.Empty(t, report.Errors)
}

func TestVerifyIntegrity_EmptyLog(t *testing.T) {
	l, _ := newTestLog(t)

	report, err := l.VerifyIntegrity("never-written")
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Zero(t, report.Entries)
}

func TestVerifyIntegrity_ExcisedLine(t *testing.T) {
	// Scenario: append 5, excise line 3, expect a tamper report naming
	// line 3.
	l, dir := newTestLog(t)
	appendN(t, l, "g", 5)

	path := filepath.Join(dir, "g.jsonl")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 5)
	tampered := strings.Join(append(lines[:2], lines[3:]...), "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))

	report, err := l.VerifyIntegrity("g")
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[0], "line 3")
	assert.Contains(t, report.Errors[0], "expected seq 3, found 4")
}

func TestVerifyIntegrity_NonNumericSeq(t *testing.T) {
	l, dir := newTestLog(t)
	appendN(t, l, "g", 1)

	path := filepath.Join(dir, "g.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":"two","group":"g","outcome":"routed"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	report, err := l.VerifyIntegrity("g")
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[0], "line 2")
	assert.Contains(t, report.Errors[0], "non-numeric seq")
}

func TestVerifyIntegrity_GarbageLine(t *testing.T) {
	l, dir := newTestLog(t)
	appendN(t, l, "g", 2)

	path := filepath.Join(dir, "g.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("not json at all\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	report, err := l.VerifyIntegrity("g")
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Contains(t, report.Errors[0], "line 3")
}

func TestVerifyIntegrity_FreshAfterRotation(t *testing.T) {
	l, _ := newTestLog(t)
	appendN(t, l, "g", 4)

	_, err := l.Rotate("g")
	require.NoError(t, err)
	appendN(t, l, "g", 2)

	report, err := l.VerifyIntegrity("g")
	require.NoError(t, err)
	assert.True(t, report.Valid, "post-rotation live file restarts cleanly at 1")
	assert.Equal(t, 2, report.Entries)
}
