package config_test

import (
	"campuschat/backend/internal/config"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("CHAT_AUTH_SECRET", "s3cret")
	t.Setenv("CHAT_STORE_DRIVER", "memory")
	t.Setenv("CHAT_SERVER_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("CHAT_TYPING_SERVER_TTL", "4s")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 4*time.Second, cfg.Typing.ServerTTL)
	assert.Equal(t, 1500*time.Millisecond, cfg.Typing.ClientIdle)
	assert.Equal(t, config.BlockSoft, cfg.Chat.BlockPolicy)
	assert.Equal(t, 30, cfg.Chat.DefaultPageSize)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "auth:\n  secret: from-file\nchat:\n  block_policy: hard\n  max_page_size: 50\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Auth.Secret)
	assert.Equal(t, config.BlockHard, cfg.Chat.BlockPolicy)
	assert.Equal(t, 50, cfg.Chat.MaxPageSize)
}

func TestLoad_MissingConfigFileIsFine(t *testing.T) {
	t.Setenv("CHAT_AUTH_SECRET", "x")
	_, err := config.Load(t.TempDir())
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("CHAT_AUTH_SECRET", "")
	t.Setenv("CHAT_PRESENCE_DRIVER", "etcd")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.secret")
	assert.Contains(t, err.Error(), "presence.driver")
}

func TestDBConfigDSN(t *testing.T) {
	c := config.DBConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db user=u password=p dbname=n port=5433 sslmode=disable", c.DSN())
}

func TestRead_SkipsValidation(t *testing.T) {
	t.Setenv("CHAT_AUTH_SECRET", "")

	cfg, err := config.Read()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Presence.Driver)
}

func TestNewLogger(t *testing.T) {
	l := config.LogConfig{Level: "debug", Format: "json"}.NewLogger()
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	l = config.LogConfig{Level: "loud"}.NewLogger()
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}
