// Package logger is a small leveled logger with component and structured
// field support, shared by the CLI and store edges. The session core itself
// never logs; it is pure state.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu       sync.RWMutex
	minLevel = LevelInfo
	out      io.Writer = os.Stderr
)

// SetLevel sets the minimum level by name; unknown names fall back to info.
func SetLevel(name string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		minLevel = LevelDebug
	case "warn", "warning":
		minLevel = LevelWarn
	case "error":
		minLevel = LevelError
	default:
		minLevel = LevelInfo
	}
}

// SetOutput redirects log output, mainly for tests. A nil writer restores
// stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	out = w
}

func DebugCF(component, msg string, fields map[string]interface{}) {
	logCF(LevelDebug, "DEBUG", component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	logCF(LevelInfo, "INFO", component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	logCF(LevelWarn, "WARN", component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	logCF(LevelError, "ERROR", component, msg, fields)
}

func logCF(level Level, label, component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if level < minLevel {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format(time.RFC3339))
	b.WriteString(" ")
	b.WriteString(label)
	b.WriteString(" [")
	b.WriteString(component)
	b.WriteString("] ")
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf(" %s=%v", k, fields[k]))
		}
	}
	b.WriteString("\n")
	_, _ = io.WriteString(out, b.String())
}
