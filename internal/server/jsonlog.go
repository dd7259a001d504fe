// jsonlog.go - Structured JSON logging with a degrade-safe sink.
//
// The logger is process-wide and append-only. It never returns an error
// and never panics: a broken or slow sink degrades to dropped records,
// it cannot take the request path down with it.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry represents a structured log entry
type LogEntry struct {
	Level     LogLevel               `json:"level"`
	Time      string                 `json:"time"`
	Message   string                 `json:"msg"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// Logger provides structured JSON logging. Writes are serialized with a
// mutex so concurrent request goroutines can share one instance.
type Logger struct {
	mu         sync.Mutex
	output     io.Writer
	closer     io.Closer // non-nil when the sink is a file we own
	minLevel   LogLevel
	enableJSON bool
}

var (
	loggerMu sync.RWMutex
	logger   = &Logger{output: os.Stdout, minLevel: LogLevelInfo, enableJSON: true}
)

// Log returns the process-wide logger. Safe before InitLogger; the
// default logs JSON at info level to stdout.
func Log() *Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// InitLogger installs the process logger from config. Called once at
// boot, before any other subsystem starts. A sink path that cannot be
// opened degrades to stdout rather than failing startup: logging is not
// allowed to participate in control flow.
func InitLogger(cfg LogConfig) {
	l := &Logger{
		output:     os.Stdout,
		minLevel:   parseLogLevel(cfg.Level),
		enableJSON: cfg.Format != "text",
	}
	if cfg.Sink != "" && cfg.Sink != "stdout" {
		f, err := os.OpenFile(cfg.Sink, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			l.output = f
			l.closer = f
		}
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// CloseLogger flushes and releases the sink on shutdown.
func CloseLogger() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger.closer != nil {
		_ = logger.closer.Close()
		logger.closer = nil
		logger.output = os.Stdout
	}
}

func parseLogLevel(level string) LogLevel {
	switch level {
	case "debug":
		return LogLevelDebug
	case "warn":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// shouldLog checks if a message at the given level should be logged
func (l *Logger) shouldLog(level LogLevel) bool {
	levels := map[LogLevel]int{
		LogLevelDebug: 0,
		LogLevelInfo:  1,
		LogLevelWarn:  2,
		LogLevelError: 3,
	}
	return levels[level] >= levels[l.minLevel]
}

// getCaller returns the file and line number of the caller
func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	// Shorten file path
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			file = file[i+1:]
			break
		}
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// log writes a log entry. Sink write errors are swallowed: the record is
// dropped, the caller is never affected.
func (l *Logger) log(level LogLevel, msg string, fields map[string]interface{}, err error) {
	if !l.shouldLog(level) {
		return
	}

	entry := LogEntry{
		Level:   level,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Message: msg,
		Fields:  fields,
		Caller:  getCaller(3),
	}
	if err != nil {
		entry.Error = err.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.enableJSON {
		data, merr := json.Marshal(entry)
		if merr != nil {
			return
		}
		_, _ = fmt.Fprintln(l.output, string(data))
		return
	}

	// Plain text format for development
	_, _ = fmt.Fprintf(l.output, "[%s] %s %s", entry.Level, entry.Time, entry.Message)
	for k, v := range entry.Fields {
		_, _ = fmt.Fprintf(l.output, " %s=%v", k, v)
	}
	if entry.Error != "" {
		_, _ = fmt.Fprintf(l.output, " error=%s", entry.Error)
	}
	_, _ = fmt.Fprintln(l.output)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields map[string]interface{}) {
	l.log(LogLevelDebug, msg, fields, nil)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields map[string]interface{}) {
	l.log(LogLevelInfo, msg, fields, nil)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields map[string]interface{}) {
	l.log(LogLevelWarn, msg, fields, nil)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields map[string]interface{}, err error) {
	l.log(LogLevelError, msg, fields, err)
}
