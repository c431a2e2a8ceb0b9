package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "ENVIRONMENT", "LOG_LEVEL", "JWT_SECRET", "STORE_BACKEND", "MONGODB_URI",
	"MONGODB_DATABASE", "DATABASE_URL", "RABBITMQ_URI", "ORDERS_QUEUE", "MAIL_PROVIDER",
	"POSTMARK_API_TOKEN", "SENDGRID_API_KEY", "EMAIL_SENDER", "PUBLIC_BASE_URL",
	"UPLOAD_DIR", "SESSION_IDLE_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8000", c.Port)
	assert.Equal(t, BackendMemory, c.StoreBackend)
	assert.Equal(t, MailLog, c.MailProvider)
	assert.Equal(t, "orders", c.OrdersQueue)
	assert.Equal(t, "http://localhost:8000", c.PublicBaseURL)
	assert.Equal(t, 30*time.Minute, c.SessionIdleLimit)
	assert.True(t, c.Development())
}

func TestMissingSecret(t *testing.T) {
	clearEnv(t)
	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestBackendRequirements(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_BACKEND", BackendPostgres)
	t.Setenv("MAIL_PROVIDER", MailSendGrid)

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "SENDGRID_API_KEY")

	t.Setenv("STORE_BACKEND", "redis")
	_, err = FromEnv()
	assert.ErrorContains(t, err, `unknown STORE_BACKEND "redis"`)
}

func TestBadIdleTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SESSION_IDLE_TIMEOUT", "soon")
	_, err := FromEnv()
	assert.ErrorContains(t, err, "SESSION_IDLE_TIMEOUT")
}

func TestLoadReadsEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET=fromfile\nPORT=9090\nENVIRONMENT=production\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fromfile", c.JWTSecret)
	assert.Equal(t, "9090", c.Port)
	assert.False(t, c.Development())
}

func TestLoadWithoutEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}
