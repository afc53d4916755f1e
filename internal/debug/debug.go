// Package debug provides a minimal, mutex-guarded logger that is silenced
// whenever the process is serving RPC over stdio, since a stray write to
// stdout would corrupt the wire protocol.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EnableDebug can be overridden at build time:
// go build -ldflags "-X github.com/csgraph/provider/internal/debug.EnableDebug=true"
var EnableDebug = "false"

// RPCMode tracks whether the process is currently serving RPC requests over
// stdio. Set by cmd/csgraph before the server starts accepting connections.
var RPCMode = false

var (
	debugOutput io.Writer
	debugFile   *os.File
	debugMutex  sync.Mutex
)

// SetRPCMode enables or disables RPC mode, which suppresses all debug
// output whatever writer is set.
func SetRPCMode(enabled bool) {
	RPCMode = enabled
}

// SetOutput sets a custom writer for debug output. Pass nil to disable.
func SetOutput(w io.Writer) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugOutput = w
}

// InitLogFile initializes debug logging to a timestamped file and returns
// its path. Call CloseLogFile when done.
func InitLogFile() (string, error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDir := filepath.Join(os.TempDir(), "csgraph-debug-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create debug log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02T150405")
	logPath := filepath.Join(logDir, fmt.Sprintf("debug-%s.log", timestamp))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create debug log file: %w", err)
	}

	debugFile = file
	debugOutput = file
	return logPath, nil
}

// CloseLogFile closes the debug log file if one is open.
func CloseLogFile() error {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debugFile != nil {
		err := debugFile.Close()
		debugFile = nil
		debugOutput = nil
		return err
	}
	return nil
}

// Enabled reports whether debug logging is active.
func Enabled() bool {
	if RPCMode {
		return false
	}
	if EnableDebug == "true" {
		return true
	}
	v := os.Getenv("CSGRAPH_DEBUG")
	return v == "1" || v == "true"
}

func writer() io.Writer {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	return debugOutput
}

// Log writes a component-tagged debug line when logging is active.
func Log(component, format string, args ...interface{}) {
	if !Enabled() {
		return
	}
	w := writer()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[DEBUG:%s] "+format+"\n", append([]interface{}{component}, args...)...)
}

// LogBuild logs during project build (parse/emit/persist).
func LogBuild(format string, args ...interface{}) { Log("BUILD", format, args...) }

// LogQuery logs during query evaluation.
func LogQuery(format string, args ...interface{}) { Log("QUERY", format, args...) }

// LogRPC logs RPC-surface activity.
func LogRPC(format string, args ...interface{}) { Log("RPC", format, args...) }

// CatastrophicError logs an unrecoverable failure. Suppressed in RPC mode so
// the wire protocol stays clean; callers should still return the error
// through the protocol.
func CatastrophicError(format string, args ...interface{}) {
	if RPCMode {
		return
	}
	w := writer()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[CATASTROPHIC] "+format+"\n", args...)
}
