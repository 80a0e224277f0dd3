package main

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"Warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), "level %q", in)
	}
}

func TestInitLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phishguard.log")
	cfg := LoggingConfig{Level: "DEBUG", Format: "json", Outputs: []string{"file", "file"}}
	cfg.File.Path = path

	require.NoError(t, InitLogger(cfg))
	assert.True(t, IsDebugEnabled())

	LogDebug("[TEST] debug line %d", 1)
	LogWarn("[TEST] warn line")
	ShutdownLogger()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"[TEST] debug line 1"`)
	assert.Contains(t, string(data), `"level":"WARN"`)

	// Re-initialising after shutdown must work.
	require.NoError(t, InitLogger(LoggingConfig{Level: "ERROR", Outputs: []string{"console"}}))
	assert.False(t, IsDebugEnabled())
	ShutdownLogger()
}

func TestInitLogger_Errors(t *testing.T) {
	t.Cleanup(ShutdownLogger)

	assert.Error(t, InitLogger(LoggingConfig{Outputs: []string{"file"}}))
	assert.Error(t, InitLogger(LoggingConfig{Outputs: []string{"carrier-pigeon"}}))

	remote := LoggingConfig{Outputs: []string{"syslog"}}
	remote.Syslog.Network = "udp"
	assert.Error(t, InitLogger(remote))
}

func TestSyslogSeverity(t *testing.T) {
	tests := []struct {
		line    string
		wantSev int
		wantMsg string
	}{
		{"level=ERROR msg=boom\n", 3, "msg=boom"},
		{"level=WARN msg=slow", 4, "msg=slow"},
		{"level=INFO msg=ready", 6, "msg=ready"},
		{`level=DEBUG msg="scored http://x.test/?level=ERROR"`, 7, `msg="scored http://x.test/?level=ERROR"`},
		{`level=INFO msg="a level=WARN b"`, 6, `msg="a level=WARN b"`},
		{"msg=no-level level=ERROR", 6, "msg=no-level level=ERROR"},
		{"level=ERRORS msg=x", 6, "level=ERRORS msg=x"},
	}
	for _, tt := range tests {
		sev, msg := syslogSeverity(tt.line)
		assert.Equal(t, tt.wantSev, sev, tt.line)
		assert.Equal(t, tt.wantMsg, msg, tt.line)
	}
}

func TestSyslogWriter_RemoteSeverity(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	w := &SyslogWriter{Network: "udp", Address: pc.LocalAddr().String(), Tag: "phishguard", Hostname: "test", Facility: 1}
	_, err = w.Write([]byte(`level=DEBUG msg="scored http://x.test/?level=ERROR"` + "\n"))
	require.NoError(t, err)

	buf := make([]byte, 1024)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)

	line := string(buf[:n])
	assert.True(t, strings.HasPrefix(line, "<15>"), line)
	assert.True(t, strings.HasSuffix(line, `phishguard: msg="scored http://x.test/?level=ERROR"`), line)
}
