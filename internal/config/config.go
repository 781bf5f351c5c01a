// Package config loads the service configuration. Values come from, in
// increasing precedence: built-in defaults, an optional config.yaml, a .env
// file and CHAT_* environment variables (dots become underscores, e.g.
// CHAT_DB_HOST overrides db.host).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BlockPolicy decides what happens to messages from a blocked sender.
type BlockPolicy string

const (
	// BlockSoft stores the message but does not push it to the blocker.
	BlockSoft BlockPolicy = "soft"
	// BlockHard rejects the message; nothing is stored.
	BlockHard BlockPolicy = "hard"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	DB       DBConfig
	Redis    RedisConfig
	Presence PresenceConfig
	Auth     AuthConfig
	Chat     ChatConfig
	Typing   TypingConfig
	Profile  ProfileConfig
	Log      LogConfig
}

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// StoreConfig selects the Message Store implementation: "postgres" or "memory".
type StoreConfig struct {
	Driver string
}

type DBConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// DSN renders the libpq connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PresenceConfig selects "memory" (single process) or "redis" (shared
// presence and cross-node fan-out).
type PresenceConfig struct {
	Driver  string
	Channel string
	HashKey string
}

type AuthConfig struct {
	Secret    string
	Issuer    string
	TokenTTL  time.Duration
	DevIssuer bool
}

type ChatConfig struct {
	DefaultPageSize  int
	MaxPageSize      int
	MaxMessageLength int
	BlockPolicy      BlockPolicy
	SendBuffer       int
}

type TypingConfig struct {
	// ServerTTL clears a typing flag server-side when no refresh arrives.
	// Zero keeps the coordinator a pure relay.
	ServerTTL time.Duration
	// ClientIdle is how long a client waits after the last keystroke
	// before sending is_typing=false.
	ClientIdle time.Duration
	// PeerTimeout is how long a client shows a peer's typing flag without
	// a refresh.
	PeerTimeout time.Duration
}

type ProfileConfig struct {
	CacheTTL time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("store.driver", "postgres")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "user")
	v.SetDefault("db.password", "password")
	v.SetDefault("db.name", "campuschat")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("db.query_timeout", 5*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("presence.driver", "memory")
	v.SetDefault("presence.channel", "chat:events")
	v.SetDefault("presence.hash_key", "chat:presence")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "campuschat")
	v.SetDefault("auth.token_ttl", 72*time.Hour)
	v.SetDefault("auth.dev_issuer", false)

	v.SetDefault("chat.default_page_size", 30)
	v.SetDefault("chat.max_page_size", 100)
	v.SetDefault("chat.max_message_length", 4000)
	v.SetDefault("chat.block_policy", string(BlockSoft))
	v.SetDefault("chat.send_buffer", 256)

	v.SetDefault("typing.server_ttl", time.Duration(0))
	v.SetDefault("typing.client_idle", 1500*time.Millisecond)
	v.SetDefault("typing.peer_timeout", 3*time.Second)

	v.SetDefault("profile.cache_ttl", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads and validates the configuration. configPaths are searched
// for config.yaml; a missing file is not an error.
func Load(configPaths ...string) (*Config, error) {
	cfg, err := Read(configPaths...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for tools that only need part of the
// configuration.
func Read(configPaths ...string) (*Config, error) {
	// .env only seeds the process environment; a missing file is fine.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	if len(configPaths) > 0 {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			AllowedOrigins: splitCSV(v.GetStringSlice("server.allowed_origins")),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
		},
		Store: StoreConfig{Driver: strings.ToLower(v.GetString("store.driver"))},
		DB: DBConfig{
			Host:            v.GetString("db.host"),
			Port:            v.GetInt("db.port"),
			User:            v.GetString("db.user"),
			Password:        v.GetString("db.password"),
			Name:            v.GetString("db.name"),
			SSLMode:         v.GetString("db.sslmode"),
			MaxOpenConns:    v.GetInt("db.max_open_conns"),
			MaxIdleConns:    v.GetInt("db.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("db.conn_max_lifetime"),
			QueryTimeout:    v.GetDuration("db.query_timeout"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Presence: PresenceConfig{
			Driver:  strings.ToLower(v.GetString("presence.driver")),
			Channel: v.GetString("presence.channel"),
			HashKey: v.GetString("presence.hash_key"),
		},
		Auth: AuthConfig{
			Secret:    v.GetString("auth.secret"),
			Issuer:    v.GetString("auth.issuer"),
			TokenTTL:  v.GetDuration("auth.token_ttl"),
			DevIssuer: v.GetBool("auth.dev_issuer"),
		},
		Chat: ChatConfig{
			DefaultPageSize:  v.GetInt("chat.default_page_size"),
			MaxPageSize:      v.GetInt("chat.max_page_size"),
			MaxMessageLength: v.GetInt("chat.max_message_length"),
			BlockPolicy:      BlockPolicy(strings.ToLower(v.GetString("chat.block_policy"))),
			SendBuffer:       v.GetInt("chat.send_buffer"),
		},
		Typing: TypingConfig{
			ServerTTL:   v.GetDuration("typing.server_ttl"),
			ClientIdle:  v.GetDuration("typing.client_idle"),
			PeerTimeout: v.GetDuration("typing.peer_timeout"),
		},
		Profile: ProfileConfig{CacheTTL: v.GetDuration("profile.cache_ttl")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret must be set"))
	}
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}
	switch c.Presence.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("presence.driver %q is not supported", c.Presence.Driver))
	}
	switch c.Chat.BlockPolicy {
	case BlockSoft, BlockHard:
	default:
		errs = append(errs, fmt.Errorf("chat.block_policy %q is not supported", c.Chat.BlockPolicy))
	}
	if c.Chat.DefaultPageSize <= 0 || c.Chat.MaxPageSize < c.Chat.DefaultPageSize {
		errs = append(errs, errors.New("chat page sizes must satisfy 0 < default_page_size <= max_page_size"))
	}
	if c.Typing.ServerTTL < 0 {
		errs = append(errs, errors.New("typing.server_ttl must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// splitCSV accepts both YAML lists and a comma separated env value.
func splitCSV(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
