package cmdutil

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, logrus.InfoLevel, NewLogger(&buf, false, false).GetLevel())
	assert.Equal(t, logrus.DebugLevel, NewLogger(&buf, true, false).GetLevel())
	assert.Equal(t, logrus.ErrorLevel, NewLogger(&buf, false, true).GetLevel())

	log := NewLogger(&buf, false, false)
	log.WithField("genomes", 3).Info("indexed")
	assert.Contains(t, buf.String(), "genomes=3")
	assert.Contains(t, buf.String(), `msg=indexed`)
}

func TestWarnfRespectsQuiet(t *testing.T) {
	log, hook := test.NewNullLogger()
	Warnf(log, true, "dropped %d", 1)
	assert.Empty(t, hook.AllEntries())
	Warnf(log, false, "dropped %d", 2)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "dropped 2", hook.LastEntry().Message)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestLogMemory(t *testing.T) {
	log, hook := test.NewNullLogger()
	LogMemory(log, "build")
	require.Len(t, hook.AllEntries(), 1)
	e := hook.LastEntry()
	assert.Equal(t, "build", e.Data["stage"])
	assert.NotEmpty(t, e.Data["heap"])
}

func TestProgress(t *testing.T) {
	var p *Progress
	p.Add(3) // nil is a no-op
	p.Done()
	assert.Nil(t, NewProgress(&bytes.Buffer{}, false, "reads", 0))

	var buf bytes.Buffer
	p = NewProgress(&buf, true, "files", 2)
	p.Add(1)
	p.Add(1)
	p.Done()
	assert.Contains(t, buf.String(), "files")

	buf.Reset()
	p = NewProgress(&buf, true, "reads", 0)
	p.Add(100)
	p.Done()
	assert.Contains(t, buf.String(), "reads")
}
