package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"kbflow/internal/config"
	"kbflow/internal/pkg/jwtutil"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/folders/list", func(c *gin.Context) {
		c.JSON(http.StatusOK, []gin.H{{"folder_id": "f-1", "name": "Legal Docs", "status": "ready", "document_count": 3}})
	})
	r.POST("/folders/create", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"folder_id": "f-2", "name": "Research"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Setenv("ENV_FILE", filepath.Join(dir, "none.env"))
	t.Setenv("CONFIG_FILE", filepath.Join(dir, "none.toml"))
	t.Setenv("API_BASE_URL", srv.URL)
	t.Setenv("JWT_SECRET", "cli-secret")

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	asJSON = false
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPingCommand(t *testing.T) {
	out, err := runCLI(t, "ping")
	require.NoError(t, err)
	assert.Contains(t, out, "1 vaults")
}

func TestVaultCommands(t *testing.T) {
	out, err := runCLI(t, "vault", "create", "Research")
	require.NoError(t, err)
	assert.Contains(t, out, "Created vault Research (f-2)")

	out, err = runCLI(t, "vault", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Legal Docs")
	assert.Contains(t, out, "ready")
}

func TestAgentCreateValidatesLocally(t *testing.T) {
	_, err := runCLI(t, "agent", "create", "--name", "ab", "--instructions", "x", "--vault", "f-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name_too_short")
}

func TestTokenCommand(t *testing.T) {
	out, err := runCLI(t, "token", "ops")
	require.NoError(t, err)
	claims, err := jwtutil.ParseToken("cli-secret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Operator)
}

func TestNewLoggerFollowsConfig(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "console"}, false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	logger, err = newLogger(config.LogConfig{Level: "warn", Format: "console"}, true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = newLogger(config.LogConfig{Level: "chatty"}, false)
	assert.Error(t, err)
}
