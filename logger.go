/*
File: logger.go
Version: 2.1.0
Description: Structured multi-output logging on log/slog with an asynchronous buffered front.
             Console, file and syslog sinks, text or JSON encoding.
             Printf-style wrappers (LogInfo etc.) keep call sites short; messages carry a
             [COMPONENT] prefix.
*/

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Usable before InitLogger runs (config parsing logs through it).
var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

var currentLevel = slog.LevelInfo

var (
	logBuffer  chan slog.Record
	logWg      sync.WaitGroup
	logDone    chan struct{}
	logClosers []io.Closer
	asyncReady bool
)

const logBufferSize = 65536

// InitLogger replaces the bootstrap logger with the configured sinks.
func InitLogger(cfg LoggingConfig) error {
	ShutdownLogger()

	lvl := parseLogLevel(cfg.Level)
	currentLevel = lvl
	opts := &slog.HandlerOptions{Level: lvl}
	json := strings.EqualFold(cfg.Format, "json")

	newHandler := func(w io.Writer, o *slog.HandlerOptions) slog.Handler {
		if json {
			return slog.NewJSONHandler(w, o)
		}
		return slog.NewTextHandler(w, o)
	}

	// Syslog stamps its own time.
	noTime := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	}

	var handlers []slog.Handler
	seen := make(map[string]bool)

	for _, output := range cfg.Outputs {
		out := strings.ToLower(strings.TrimSpace(output))
		if seen[out] {
			continue
		}
		seen[out] = true

		switch out {
		case "console":
			handlers = append(handlers, newHandler(os.Stderr, opts))

		case "file":
			if cfg.File.Path == "" {
				return fmt.Errorf("file logging enabled but no path specified")
			}
			perm := os.FileMode(0644)
			if cfg.File.Permissions > 0 {
				perm = os.FileMode(cfg.File.Permissions)
			}
			f, err := os.OpenFile(cfg.File.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, perm)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			logClosers = append(logClosers, f)
			handlers = append(handlers, newHandler(f, opts))

		case "syslog":
			w, err := newSyslogSink(cfg)
			if err != nil {
				return err
			}
			handlers = append(handlers, slog.NewTextHandler(w, noTime))

		default:
			return fmt.Errorf("unknown log output '%s'", output)
		}
	}

	if len(handlers) == 0 {
		handlers = append(handlers, newHandler(os.Stderr, opts))
	}

	var final slog.Handler = handlers[0]
	if len(handlers) > 1 {
		final = &MultiHandler{handlers: handlers}
	}

	logBuffer = make(chan slog.Record, logBufferSize)
	logDone = make(chan struct{})
	logWg.Add(1)
	go func(buf <-chan slog.Record, done <-chan struct{}) {
		defer logWg.Done()
		processLogs(final, buf, done)
	}(logBuffer, logDone)
	asyncReady = true

	logger = slog.New(&AsyncHandler{handler: final, buffer: logBuffer})
	slog.SetDefault(logger)

	LogInfo("[SYSTEM] Logger initialized: Level=%s, Outputs=%v, Format=%s", lvl, cfg.Outputs, cfg.Format)
	return nil
}

func newSyslogSink(cfg LoggingConfig) (io.Writer, error) {
	local := cfg.Syslog.Network == "" || cfg.Syslog.Network == "unix" || cfg.Syslog.Network == "unixgram"
	if local && runtime.GOOS != "windows" {
		w, err := syslog.New(syslog.Priority(cfg.Syslog.Facility)|syslog.LOG_INFO, cfg.Syslog.Tag)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to local syslog: %w", err)
		}
		logClosers = append(logClosers, w)
		return &syslogLevelWriter{w: w}, nil
	}
	if cfg.Syslog.Address == "" {
		return nil, fmt.Errorf("remote syslog requires logging.syslog.address")
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return &SyslogWriter{
		Network:  cfg.Syslog.Network,
		Address:  cfg.Syslog.Address,
		Tag:      cfg.Syslog.Tag,
		Facility: cfg.Syslog.Facility,
		Hostname: host,
	}, nil
}

func processLogs(h slog.Handler, buf <-chan slog.Record, done <-chan struct{}) {
	ctx := context.Background()
	for {
		select {
		case r := <-buf:
			_ = h.Handle(ctx, r)
		case <-done:
			// Drain whatever is still queued.
			for {
				select {
				case r := <-buf:
					_ = h.Handle(ctx, r)
				default:
					return
				}
			}
		}
	}
}

// ShutdownLogger flushes queued records and closes file and syslog sinks.
func ShutdownLogger() {
	if !asyncReady {
		return
	}
	asyncReady = false
	close(logDone)
	logWg.Wait()
	for _, c := range logClosers {
		_ = c.Close()
	}
	logClosers = nil
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: currentLevel}))
}

// AsyncHandler queues records for the background writer. A full queue drops the record
// rather than stalling the request path.
type AsyncHandler struct {
	handler slog.Handler
	buffer  chan slog.Record
}

func (h *AsyncHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.handler.Enabled(ctx, l)
}

func (h *AsyncHandler) Handle(_ context.Context, r slog.Record) error {
	select {
	case h.buffer <- r.Clone():
	default:
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{handler: h.handler.WithAttrs(attrs), buffer: h.buffer}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{handler: h.handler.WithGroup(name), buffer: h.buffer}
}

type MultiHandler struct {
	handlers []slog.Handler
}

func (m *MultiHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: hs}
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: hs}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// --- Level Checks ---

func IsDebugEnabled() bool {
	return currentLevel <= slog.LevelDebug
}

// --- Printf Wrappers ---

func logWithCaller(level slog.Level, format string, v ...any) {
	ctx := context.Background()
	if !logger.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, v...), pcs[0])
	_ = logger.Handler().Handle(ctx, r)
}

func LogDebug(format string, v ...any) { logWithCaller(slog.LevelDebug, format, v...) }
func LogInfo(format string, v ...any)  { logWithCaller(slog.LevelInfo, format, v...) }
func LogWarn(format string, v ...any)  { logWithCaller(slog.LevelWarn, format, v...) }
func LogError(format string, v ...any) { logWithCaller(slog.LevelError, format, v...) }

func LogFatal(format string, v ...any) {
	logWithCaller(slog.LevelError, format, v...)
	ShutdownLogger()
	os.Exit(1)
}

// --- Syslog ---

// syslogLevelWriter maps slog's text level marker onto the matching syslog severity.
type syslogLevelWriter struct {
	w *syslog.Writer
}

func (sw *syslogLevelWriter) Write(p []byte) (int, error) {
	s := string(p)
	var err error
	switch sev, _ := syslogSeverity(s); sev {
	case 3:
		err = sw.w.Err(s)
	case 4:
		err = sw.w.Warning(s)
	case 7:
		err = sw.w.Debug(s)
	default:
		err = sw.w.Info(s)
	}
	return len(p), err
}

// Records reach syslog without a time attribute, so the level is always the leading attr.
var syslogLevels = []struct {
	marker   string
	severity int
}{
	{"level=ERROR", 3},
	{"level=WARN", 4},
	{"level=INFO", 6},
	{"level=DEBUG", 7},
}

// syslogSeverity reads the leading slog level attribute of line and returns the matching
// syslog severity with the attribute removed. Lines without one are informational.
func syslogSeverity(line string) (int, string) {
	for _, l := range syslogLevels {
		if rest, ok := strings.CutPrefix(line, l.marker); ok && (rest == "" || rest[0] == ' ' || rest[0] == '\n') {
			return l.severity, strings.TrimSpace(rest)
		}
	}
	return 6, strings.TrimSpace(line)
}

// SyslogWriter sends RFC 3164 style lines to a remote collector, reconnecting once on
// write failure. Undeliverable lines are dropped.
type SyslogWriter struct {
	Network  string
	Address  string
	Tag      string
	Hostname string
	Facility int

	mu   sync.Mutex
	conn net.Conn
}

func (w *SyslogWriter) connect() error {
	if w.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout(w.Network, w.Address, time.Second)
	if err != nil {
		return err
	}
	w.conn = conn
	return nil
}

func (w *SyslogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	severity, msg := syslogSeverity(string(p))
	line := fmt.Sprintf("<%d>%s %s %s: %s", w.Facility*8+severity, time.Now().Format(time.RFC3339), w.Hostname, w.Tag, msg)

	if err := w.connect(); err != nil {
		return len(p), nil
	}
	if _, err := io.WriteString(w.conn, line); err != nil {
		w.conn.Close()
		w.conn = nil
		if w.connect() == nil {
			_, _ = io.WriteString(w.conn, line)
		}
	}
	return len(p), nil
}
