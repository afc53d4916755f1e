package debug

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func saveAndRestoreState() func() {
	originalDebug := EnableDebug
	originalMode := RPCMode
	originalOutput := debugOutput
	originalFile := debugFile
	return func() {
		EnableDebug = originalDebug
		RPCMode = originalMode
		debugOutput = originalOutput
		debugFile = originalFile
	}
}

func TestSetRPCMode(t *testing.T) {
	defer saveAndRestoreState()()

	SetRPCMode(true)
	assert.True(t, RPCMode)

	SetRPCMode(false)
	assert.False(t, RPCMode)
}

func TestEnabled(t *testing.T) {
	defer saveAndRestoreState()()

	EnableDebug = "false"
	RPCMode = false
	assert.False(t, Enabled())

	EnableDebug = "true"
	RPCMode = false
	assert.True(t, Enabled())

	EnableDebug = "true"
	RPCMode = true
	assert.False(t, Enabled(), "RPC mode must suppress logging even when enabled")
}

func TestLog(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetOutput(&buf)
	EnableDebug = "true"
	RPCMode = false
	Log("TEST", "Hello %s", "World")

	output := buf.String()
	assert.Contains(t, output, "[DEBUG:TEST]")
	assert.Contains(t, output, "Hello World")
}

func TestLog_RPCModeSuppressed(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetOutput(&buf)
	EnableDebug = "true"
	RPCMode = true
	Log("TEST", "Should not appear")

	assert.Empty(t, buf.String())
}

func TestLogHelpers(t *testing.T) {
	defer saveAndRestoreState()()

	EnableDebug = "true"
	RPCMode = false

	tests := []struct {
		name    string
		logFunc func(string, ...interface{})
		prefix  string
	}{
		{"LogBuild", LogBuild, "[DEBUG:BUILD]"},
		{"LogQuery", LogQuery, "[DEBUG:QUERY]"},
		{"LogRPC", LogRPC, "[DEBUG:RPC]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetOutput(&buf)
			tt.logFunc("message %s", "test")
			output := buf.String()
			assert.Contains(t, output, tt.prefix)
			assert.Contains(t, output, "message test")
		})
	}
}

func TestCatastrophicError(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetOutput(&buf)
	RPCMode = false
	CatastrophicError("system failure: %s", "disk full")

	output := buf.String()
	assert.Contains(t, output, "[CATASTROPHIC]")
	assert.Contains(t, output, "system failure: disk full")
}

func TestCatastrophicError_RPCModeSuppressed(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetOutput(&buf)
	RPCMode = true
	CatastrophicError("should not appear")

	assert.Empty(t, buf.String())
}

func TestConcurrentLogging(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetOutput(&buf)
	EnableDebug = "true"
	RPCMode = false

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			Log("CONCURRENT", "message from goroutine %d", id)
			LogQuery("query from goroutine %d", id)
			LogBuild("build from goroutine %d", id)
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestNoOutputWithNilWriter(t *testing.T) {
	defer saveAndRestoreState()()

	SetOutput(nil)
	EnableDebug = "true"
	RPCMode = false

	Log("TEST", "test %s", "message")
	LogQuery("test %s", "message")
	LogBuild("test %s", "message")
	LogRPC("test %s", "message")
	CatastrophicError("test %s", "message")
}

func TestInitLogFile(t *testing.T) {
	defer saveAndRestoreState()()

	logPath, err := InitLogFile()
	assert.NoError(t, err)
	assert.NotEmpty(t, logPath)

	_, err = os.Stat(logPath)
	assert.NoError(t, err)

	EnableDebug = "true"
	RPCMode = false
	Log("TEST", "log message")

	err = CloseLogFile()
	assert.NoError(t, err)

	content, err := os.ReadFile(logPath)
	assert.NoError(t, err)
	assert.Contains(t, string(content), "log message")

	os.Remove(logPath)
}
