package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetState() {
	CloseAll()
	logsDir = ""
	workspace = ""
	config = loggingConfig{}
	logLevel = LevelInfo
}

func writeConfig(t *testing.T, ws, body string) {
	t.Helper()
	dir := filepath.Join(ws, ".orchestra")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0644))
}

func TestInitializeWithoutConfigIsSilent(t *testing.T) {
	defer resetState()

	ws := t.TempDir()
	require.NoError(t, Initialize(ws))

	Builder("this should go nowhere")
	_, err := os.Stat(filepath.Join(ws, ".orchestra", "logs"))
	assert.True(t, os.IsNotExist(err), "no logs directory without debug_mode")
}

func TestInitializeDebugModeWritesCategoryFiles(t *testing.T) {
	defer resetState()

	ws := t.TempDir()
	writeConfig(t, ws, "logging:\n  debug_mode: true\n  level: debug\n")
	require.NoError(t, Initialize(ws))

	Builder("user layer built for %s", "alice")
	Cache("hit for session %s", "s-1")
	CloseAll()

	date := time.Now().Format("2006-01-02")
	builderLog := filepath.Join(ws, ".orchestra", "logs", date+"_builder.log")
	data, err := os.ReadFile(builderLog)
	require.NoError(t, err)
	assert.Contains(t, string(data), "user layer built for alice")

	cacheLog := filepath.Join(ws, ".orchestra", "logs", date+"_cache.log")
	data, err = os.ReadFile(cacheLog)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hit for session s-1")
}

func TestDisabledCategoryIsNoOp(t *testing.T) {
	defer resetState()

	ws := t.TempDir()
	writeConfig(t, ws, "logging:\n  debug_mode: true\n  categories:\n    routing: false\n")
	require.NoError(t, Initialize(ws))

	assert.False(t, IsCategoryEnabled(CategoryRouting))
	assert.True(t, IsCategoryEnabled(CategoryBuilder))

	Routing("should not be written")
	date := time.Now().Format("2006-01-02")
	_, err := os.Stat(filepath.Join(ws, ".orchestra", "logs", date+"_routing.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestLevelFiltering(t *testing.T) {
	defer resetState()

	ws := t.TempDir()
	writeConfig(t, ws, "logging:\n  debug_mode: true\n  level: warn\n")
	require.NoError(t, Initialize(ws))

	BuilderDebug("filtered")
	BuilderWarn("kept")
	CloseAll()

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(ws, ".orchestra", "logs", date+"_builder.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "filtered")
	assert.Contains(t, string(data), "kept")
}

func TestGetIsNoOpBeforeInitialize(t *testing.T) {
	defer resetState()

	// Must never panic when logging was never initialized.
	l := Get(CategoryBudget)
	l.Info("dropped")
	l.Error("dropped")
}

func TestTimerStopWithThreshold(t *testing.T) {
	defer resetState()

	timer := StartTimer(CategoryStore, "save_envelope")
	elapsed := timer.StopWithThreshold(time.Hour)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
}
