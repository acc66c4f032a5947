package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {

	logger := NewLogger(slog.LevelDebug, nil)

	logger.Info("info test")
	logger.Infof("info %s", "test")
	logger.Warn("warn test")
	logger.Warnf("warn %d", 1)
	logger.Debug("debug test")
}

func TestError(t *testing.T) {

	fs := afero.NewMemMapFs()
	logFile, err := fs.Create("/var/log/puppet-ssl.log")
	require.Nil(t, err)

	logger := NewLogger(slog.LevelInfo, logFile)

	logger.Error(errors.New("an error occurred"))
	logger.Info("info test")
	logger.Debug("debug test")

	contents, err := afero.ReadFile(fs, "/var/log/puppet-ssl.log")
	require.Nil(t, err)
	assert.True(t, strings.Contains(string(contents), "an error occurred"))
	assert.True(t, strings.Contains(string(contents), "info test"))
	assert.False(t, strings.Contains(string(contents), "debug test"))
}

func TestSecurity(t *testing.T) {

	buf := new(bytes.Buffer)
	logger := NewWriterLogger(slog.LevelInfo, buf)

	logger.Security(SecurityLogEntry{
		Severity:    SeverityHigh,
		Category:    CategoryAuthorization,
		Description: "certificate revoked",
		Source:      SourceCA,
		Subject:     "CN=agent1",
	})

	out := buf.String()
	assert.True(t, strings.Contains(out, "level=SECURITY"))
	assert.True(t, strings.Contains(out, "subject=CN=agent1"))
}
