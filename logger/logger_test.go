package logger

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, logrus.WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, logrus.InfoLevel, ParseLogLevel("nonsense"))
}

func TestCustomFormatter(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel("debug")
	defer SetLevel("warn")

	WithComponent("pager").WithField("page", 3).Debugf("commit %d pages", 2)

	out := buf.String()
	assert.Contains(t, out, "[DEBU]")
	assert.Contains(t, out, "commit 2 pages")
	assert.Contains(t, out, "component=pager")
	assert.Contains(t, out, "page=3")
	assert.Contains(t, out, "logger_test.go")
}
