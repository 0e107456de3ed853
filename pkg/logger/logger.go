// HookClaw - Telegram webhook gateway
// License: MIT

// Package logger is the process-wide component logger. Every call carries a
// component name so log lines from the queue, the dispatcher and the HTTP
// ingress can be told apart without threading a logger through constructors.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[string]LogLevel{
	"debug":   DEBUG,
	"info":    INFO,
	"warn":    WARN,
	"warning": WARN,
	"error":   ERROR,
}

// Options configures the global logger.
type Options struct {
	Level  string    // debug, info, warn, error
	Format string    // text or json
	Output io.Writer // defaults to stderr
}

var (
	mu       sync.RWMutex
	levelVar = new(slog.LevelVar)
	base     = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
)

// Init replaces the global handler. Unknown levels fall back to info.
func Init(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	SetLevel(ParseLevel(opts.Level))

	handlerOpts := &slog.HandlerOptions{Level: levelVar}
	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(out, handlerOpts)
	} else {
		h = slog.NewTextHandler(out, handlerOpts)
	}

	mu.Lock()
	base = slog.New(h)
	mu.Unlock()
}

func ParseLevel(s string) LogLevel {
	if l, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l
	}
	return INFO
}

func SetLevel(level LogLevel) {
	levelVar.Set(toSlog(level))
}

func GetLevel() LogLevel {
	switch l := levelVar.Level(); {
	case l <= slog.LevelDebug:
		return DEBUG
	case l <= slog.LevelInfo:
		return INFO
	case l <= slog.LevelWarn:
		return WARN
	default:
		return ERROR
	}
}

func toSlog(level LogLevel) slog.Level {
	switch level {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func logMessage(level LogLevel, component string, message string, fields map[string]interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()

	lvl := toSlog(level)
	ctx := context.Background()
	if !l.Enabled(ctx, lvl) {
		return
	}

	attrs := make([]slog.Attr, 0, len(fields)+1)
	if component != "" {
		attrs = append(attrs, slog.String("component", component))
	}

	// map iteration order is random, keep lines stable
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}

	l.LogAttrs(ctx, lvl, message, attrs...)
}

func Debug(message string) {
	logMessage(DEBUG, "", message, nil)
}

func DebugC(component string, message string) {
	logMessage(DEBUG, component, message, nil)
}

func DebugF(message string, fields map[string]interface{}) {
	logMessage(DEBUG, "", message, fields)
}

func DebugCF(component string, message string, fields map[string]interface{}) {
	logMessage(DEBUG, component, message, fields)
}

func Info(message string) {
	logMessage(INFO, "", message, nil)
}

func InfoC(component string, message string) {
	logMessage(INFO, component, message, nil)
}

func InfoF(message string, fields map[string]interface{}) {
	logMessage(INFO, "", message, fields)
}

func InfoCF(component string, message string, fields map[string]interface{}) {
	logMessage(INFO, component, message, fields)
}

func Warn(message string) {
	logMessage(WARN, "", message, nil)
}

func WarnC(component string, message string) {
	logMessage(WARN, component, message, nil)
}

func WarnF(message string, fields map[string]interface{}) {
	logMessage(WARN, "", message, fields)
}

func WarnCF(component string, message string, fields map[string]interface{}) {
	logMessage(WARN, component, message, fields)
}

func Error(message string) {
	logMessage(ERROR, "", message, nil)
}

func ErrorC(component string, message string) {
	logMessage(ERROR, component, message, nil)
}

func ErrorF(message string, fields map[string]interface{}) {
	logMessage(ERROR, "", message, fields)
}

func ErrorCF(component string, message string, fields map[string]interface{}) {
	logMessage(ERROR, component, message, fields)
}
