package config

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/mcbot/internal/domain"
	"github.com/MrSnakeDoc/mcbot/internal/locale"
	"github.com/MrSnakeDoc/mcbot/internal/logger"
)

const (
	DefaultPath    = "mcbot.yaml"
	DefaultEnvFile = ".env"

	RCONNative = "native"
	RCONMcrcon = "mcrcon"
)

type Config struct {
	LogLevel        string        `yaml:"log_level"`        // "debug" | "info" | "warn" | "error"
	PrettyLog       bool          `yaml:"pretty_log"`       // true => zap dev (color), false => zap prod (JSON)
	Locale          string        `yaml:"locale"`           // catalog name, ex: "en-UK"
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // ex: 5s

	Telegram TelegramConfig `yaml:"telegram"`
	Systemd  SystemdConfig  `yaml:"systemd"`
	Start    StartConfig    `yaml:"start"`
	RCON     RCONConfig     `yaml:"rcon"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Redis    RedisConfig    `yaml:"redis"`
	Ops      OpsConfig      `yaml:"ops"`

	Servers []ServerConfig `yaml:"servers"`
}

type TelegramConfig struct {
	Token       string        `yaml:"token"`
	APIEndpoint string        `yaml:"api_endpoint"` // optional, "%s" token and method
	PollTimeout time.Duration `yaml:"poll_timeout"` // long-poll wait, ex: 60s
	OffsetFile  string        `yaml:"offset_file"`  // optional, used when redis is not configured
}

type SystemdConfig struct {
	UnitTemplate   string        `yaml:"unit_template"` // ex: "minecraft-server@{name}.service"
	UseSudo        *bool         `yaml:"use_sudo"`      // nil => sudo unless running as root
	SudoCommand    string        `yaml:"sudo_command"`
	SystemctlPath  string        `yaml:"systemctl_path"`
	JournalctlPath string        `yaml:"journalctl_path"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

type StartConfig struct {
	Timeout     time.Duration `yaml:"timeout"`      // bound on the readiness wait, ex: 60s
	ReadyMarker string        `yaml:"ready_marker"` // log substring proving readiness
}

type RCONConfig struct {
	Backend    string        `yaml:"backend"` // "native" | "mcrcon"
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	Password   string        `yaml:"password"`
	Timeout    time.Duration `yaml:"timeout"`
	McrconPath string        `yaml:"mcrcon_path"`
}

type BridgeConfig struct {
	ThrottleBurst     int           `yaml:"throttle_burst"`
	ThrottlePerMinute int           `yaml:"throttle_per_minute"`
	PendingTTL        time.Duration `yaml:"pending_ttl"`    // age at which a deferred activation is dropped
	SweepInterval     time.Duration `yaml:"sweep_interval"` // how often pending activations are checked
}

// RedisConfig is optional; an empty Addr disables redis.
type RedisConfig struct {
	Addr           string        `yaml:"addr"` // ex: "localhost:6379"
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PoolSize       int           `yaml:"pool_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // total time to retry connecting
	RetryInterval  time.Duration `yaml:"retry_interval"`  // initial wait between retries, grows exponentially
	MaxWait        time.Duration `yaml:"max_wait"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	WarnThreshold  int           `yaml:"warn_threshold"`
}

// OpsConfig is optional; an empty Listen disables the ops server.
type OpsConfig struct {
	Listen       string   `yaml:"listen"`        // ex: "127.0.0.1:9090"
	AllowedCIDRS []string `yaml:"allowed_cidrs"` // optional, restrict access to specific networks
	TrustProxy   bool     `yaml:"trust_proxy"`
}

// ServerConfig binds one chat to one managed server.
type ServerConfig struct {
	Name    string `yaml:"name"`
	ChatID  int64  `yaml:"chat_id"`
	Unit    string `yaml:"unit"`     // optional, overrides the unit template
	LogFile string `yaml:"log_file"` // optional, followed instead of the journal

	RCONHost     string `yaml:"rcon_host"`
	RCONPort     int    `yaml:"rcon_port"`
	RCONPassword string `yaml:"rcon_password"`
}

func defaults() *Config {
	return &Config{
		LogLevel:        "info",
		PrettyLog:       false,
		Locale:          locale.Fallback,
		ShutdownTimeout: 5 * time.Second,
		Telegram: TelegramConfig{
			PollTimeout: 60 * time.Second,
		},
		Systemd: SystemdConfig{
			UnitTemplate:   domain.DefaultUnitTemplate,
			SudoCommand:    "sudo",
			SystemctlPath:  "systemctl",
			JournalctlPath: "journalctl",
			CommandTimeout: 10 * time.Second,
		},
		Start: StartConfig{
			Timeout:     60 * time.Second,
			ReadyMarker: "]: Done",
		},
		RCON: RCONConfig{
			Backend: RCONNative,
			Host:    "localhost",
			Port:    25575,
			Timeout: 5 * time.Second,
		},
		Bridge: BridgeConfig{
			ThrottleBurst:     20,
			ThrottlePerMinute: 20,
			PendingTTL:        5 * time.Minute,
			SweepInterval:     30 * time.Second,
		},
		Redis: RedisConfig{
			User:           "default",
			DialTimeout:    5 * time.Second,
			ReadTimeout:    3 * time.Second,
			WriteTimeout:   3 * time.Second,
			PoolSize:       4,
			ConnectTimeout: 30 * time.Second,
			RetryInterval:  2 * time.Second,
			MaxWait:        10 * time.Second,
			PingTimeout:    5 * time.Second,
			WarnThreshold:  3,
		},
	}
}

// LoadEnvFile loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the config file at path, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}
	return cfg, nil
}

// Parse decodes a config document. ".json" and ".jsonc" documents may carry
// comments and trailing commas; anything else is read as YAML.
func Parse(data []byte, ext string) (*Config, error) {
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	cfg := defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Telegram.Token = getenv("MCBOT_TELEGRAM_TOKEN", c.Telegram.Token)
	c.RCON.Password = getenv("MCBOT_RCON_PASSWORD", c.RCON.Password)
	c.Redis.Addr = getenv("MCBOT_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getenv("MCBOT_REDIS_PASSWORD", c.Redis.Password)
	c.LogLevel = getenv("MCBOT_LOG_LEVEL", c.LogLevel)
	c.PrettyLog = mustBool("MCBOT_PRETTY_LOG", c.PrettyLog)
	c.ShutdownTimeout = mustDuration("MCBOT_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.Ops.Listen = getenv("MCBOT_OPS_LISTEN", c.Ops.Listen)
	if cidrs := splitAndTrim(os.Getenv("MCBOT_OPS_ALLOWED_CIDRS")); cidrs != nil {
		c.Ops.AllowedCIDRS = cidrs
	}
}

// Validate checks the invariants the rest of the program relies on, in
// particular that chats and servers map one to one.
func (c *Config) Validate() error {
	var errs []error

	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is required (or MCBOT_TELEGRAM_TOKEN)"))
	}
	if !logger.ValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if c.RCON.Backend != RCONNative && c.RCON.Backend != RCONMcrcon {
		errs = append(errs, fmt.Errorf("rcon.backend %q is not one of %s, %s", c.RCON.Backend, RCONNative, RCONMcrcon))
	}

	for name, d := range map[string]time.Duration{
		"shutdown_timeout":        c.ShutdownTimeout,
		"telegram.poll_timeout":   c.Telegram.PollTimeout,
		"systemd.command_timeout": c.Systemd.CommandTimeout,
		"start.timeout":           c.Start.Timeout,
		"rcon.timeout":            c.RCON.Timeout,
		"bridge.pending_ttl":      c.Bridge.PendingTTL,
		"bridge.sweep_interval":   c.Bridge.SweepInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %v", name, d))
		}
	}
	if c.Start.ReadyMarker == "" {
		errs = append(errs, errors.New("start.ready_marker must not be empty"))
	}

	if len(c.Servers) == 0 {
		errs = append(errs, errors.New("at least one server is required"))
	}
	names := make(map[string]bool, len(c.Servers))
	chats := make(map[int64]string, len(c.Servers))
	for i, s := range c.Servers {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("servers[%d]: name is required", i))
		case strings.ContainsAny(s.Name, "/ \t"):
			errs = append(errs, fmt.Errorf("servers[%d]: name %q must not contain slashes or spaces", i, s.Name))
		case names[s.Name]:
			errs = append(errs, fmt.Errorf("servers[%d]: server %q is listed twice", i, s.Name))
		}
		names[s.Name] = true

		if s.ChatID == 0 {
			errs = append(errs, fmt.Errorf("servers[%d]: chat_id is required", i))
		} else if other, dup := chats[s.ChatID]; dup {
			errs = append(errs, fmt.Errorf("servers[%d]: chat %d already bound to %q", i, s.ChatID, other))
		}
		chats[s.ChatID] = s.Name
	}

	return errors.Join(errs...)
}

// Directory builds the identity table for the configured servers.
func (c *Config) Directory() domain.Directory {
	namer := domain.UnitNamer{Template: c.Systemd.UnitTemplate}
	dir := make(domain.Directory, len(c.Servers))
	for _, s := range c.Servers {
		id := domain.ServiceIdentity(s.Name)
		srv := domain.Server{
			Identity: id,
			Unit:     s.Unit,
			LogFile:  s.LogFile,
			Console: domain.ConsoleEndpoint{
				Host:     firstNonEmpty(s.RCONHost, c.RCON.Host),
				Port:     firstNonZero(s.RCONPort, c.RCON.Port),
				Password: firstNonEmpty(s.RCONPassword, c.RCON.Password),
			},
		}
		if srv.Unit == "" {
			srv.Unit = namer.Unit(id)
		}
		dir[id] = srv
	}
	return dir
}

// Chats maps each configured chat to its server identity.
func (c *Config) Chats() map[int64]domain.ServiceIdentity {
	out := make(map[int64]domain.ServiceIdentity, len(c.Servers))
	for _, s := range c.Servers {
		out[s.ChatID] = domain.ServiceIdentity(s.Name)
	}
	return out
}

// ChatIDs lists the configured chats.
func (c *Config) ChatIDs() []int64 {
	ids := make([]int64, 0, len(c.Servers))
	for _, s := range c.Servers {
		ids = append(ids, s.ChatID)
	}
	return ids
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	cp := *c
	const redacted = "***REDACTED***"
	if cp.Telegram.Token != "" {
		cp.Telegram.Token = redacted
	}
	if cp.RCON.Password != "" {
		cp.RCON.Password = redacted
	}
	if cp.Redis.Password != "" {
		cp.Redis.Password = redacted
	}
	cp.Servers = make([]ServerConfig, len(c.Servers))
	for i, s := range c.Servers {
		if s.RCONPassword != "" {
			s.RCONPassword = redacted
		}
		cp.Servers[i] = s
	}
	return cp
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}
