package log

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevel(LevelNone)

	SetLevel(LevelWarning)
	Debug("hidden %d", 1)
	Info("hidden %d", 2)
	Warning("buffer overflow")
	Error("key import failed: %s", "bad key")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "buffer overflow")
	assert.Contains(t, out, "key import failed: bad key")

	buf.Reset()
	SetLevel(LevelNone)
	Error("silenced")
	assert.Empty(t, buf.String())
}
