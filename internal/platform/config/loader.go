package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Mode represents the bot operating mode.
type Mode string

const (
	ModeProduction Mode = "production"
	ModeDev        Mode = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production", "":
		return ModeProduction, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of production, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// SkipEnv disables environment variable overrides.
	SkipEnv bool

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr   *string
	LoggingLevel *string
	StoreDriver  *string
	DataDir      *string
	SSRFMode     *string
}

// fileConfig mirrors Config but with pointer fields to detect presence.
type fileConfig struct {
	Mode       string `toml:"mode"`
	ListenAddr string `toml:"listen_addr"`

	Logging      *LoggingConfig            `toml:"logging"`
	OutboundHTTP *outboundHTTPFileConfig   `toml:"outbound_http"`
	Store        *StoreConfig              `toml:"store"`
	Discord      *DiscordConfig            `toml:"discord"`
	Provisioning *provisioningFileConfig   `toml:"provisioning"`
	Services     map[string]map[string]any `toml:"services"`
}

// outboundHTTPFileConfig keeps booleans as pointers so an omitted key does
// not reset a preset.
type outboundHTTPFileConfig struct {
	SSRFMode           string `toml:"ssrf_mode"`
	TimeoutMS          int    `toml:"timeout_ms"`
	ConnectTimeoutMS   int    `toml:"connect_timeout_ms"`
	MaxResponseBytes   int64  `toml:"max_response_bytes"`
	InsecureSkipVerify *bool  `toml:"insecure_skip_verify"`
	UserAgent          string `toml:"user_agent"`
}

type provisioningFileConfig struct {
	FreestyleJobs              *bool  `toml:"freestyle_jobs"`
	GroupNamePattern           string `toml:"group_name_pattern"`
	AcceptedTemplate           string `toml:"accepted_template"`
	DeniedTemplate             string `toml:"denied_template"`
	InteractionDedupTTLSeconds int    `toml:"interaction_dedup_ttl_seconds"`
}

// Load loads configuration with the following precedence:
// mode preset < TOML file < environment < CLI flags.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var fc fileConfig

	// Step 1: Load TOML file if provided
	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}

		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
	}

	// Step 2: Determine effective mode
	modeStr := "production"
	if fc.Mode != "" {
		modeStr = fc.Mode
	}
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}

	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	// Step 3: Start from mode preset
	cfg := presetForMode(mode)

	// Step 4: Overlay TOML values
	if opts.ConfigPath != "" {
		overlayFileConfig(cfg, &fc)
	}

	// Step 5: Overlay secrets from the environment
	if !opts.SkipEnv {
		if err := overlayEnv(cfg); err != nil {
			return nil, err
		}
	}

	// Step 6: Overlay CLI flags
	overlayFlags(cfg, opts.FlagOverrides)

	// Step 7: Validate enum fields (fatal on invalid values)
	if err := validateEnums(cfg); err != nil {
		return nil, err
	}

	if err := validateValues(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// presetForMode returns the base config for a given mode.
func presetForMode(mode Mode) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return ProductionConfig()
}

// ProductionConfig returns production defaults.
func ProductionConfig() *Config {
	return &Config{
		Mode:       string(ModeProduction),
		ListenAddr: ":8080",
		Logging: LoggingConfig{
			Level: "info",
		},
		OutboundHTTP: OutboundHTTPConfigDefaults(),
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: "data",
		},
		Discord: DiscordConfig{
			APIURL: "https://discord.com/api/v10",
		},
		Provisioning: ProvisioningConfig{
			GroupNamePattern:           DefaultGroupNamePattern,
			AcceptedTemplate:           DefaultAcceptedTemplate,
			DeniedTemplate:             DefaultDeniedTemplate,
			InteractionDedupTTLSeconds: 900,
		},
		Services: make(map[string]map[string]any),
	}
}

// DevConfig returns development defaults with relaxed TLS and verbose logging.
func DevConfig() *Config {
	cfg := ProductionConfig()
	cfg.Mode = string(ModeDev)
	cfg.Logging.Level = "debug"
	cfg.OutboundHTTP.InsecureSkipVerify = true
	cfg.Store.Driver = "json"
	return cfg
}

const (
	// DefaultGroupNamePattern matches CamelCase names with at least two
	// capitals, or names ending in Team/Org/Dev/Studio(s).
	DefaultGroupNamePattern = `^([A-Z][a-z0-9]+){2,}$|(?i)(team|org|dev|studios?)$`

	DefaultAcceptedTemplate = "Your request has been accepted by {{.Reviewer}}. Your project is available at {{.JobURL}}"
	DefaultDeniedTemplate   = "Your request has been denied by {{.Reviewer}}. Reason: {{.Reason}}"
)

// overlayFileConfig overlays non-zero values from fc onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.Mode != "" {
		cfg.Mode = fc.Mode
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}

	if fc.Logging != nil && fc.Logging.Level != "" {
		cfg.Logging.Level = fc.Logging.Level
	}

	if o := fc.OutboundHTTP; o != nil {
		if o.SSRFMode != "" {
			cfg.OutboundHTTP.SSRFMode = o.SSRFMode
		}
		if o.TimeoutMS > 0 {
			cfg.OutboundHTTP.TimeoutMS = o.TimeoutMS
		}
		if o.ConnectTimeoutMS > 0 {
			cfg.OutboundHTTP.ConnectTimeoutMS = o.ConnectTimeoutMS
		}
		if o.MaxResponseBytes > 0 {
			cfg.OutboundHTTP.MaxResponseBytes = o.MaxResponseBytes
		}
		if o.InsecureSkipVerify != nil {
			cfg.OutboundHTTP.InsecureSkipVerify = *o.InsecureSkipVerify
		}
		if o.UserAgent != "" {
			cfg.OutboundHTTP.UserAgent = o.UserAgent
		}
	}

	if s := fc.Store; s != nil {
		if s.Driver != "" {
			cfg.Store.Driver = s.Driver
		}
		if s.DataDir != "" {
			cfg.Store.DataDir = s.DataDir
		}
	}

	if d := fc.Discord; d != nil {
		overlayString(&cfg.Discord.APIURL, d.APIURL)
		overlayString(&cfg.Discord.ApplicationID, d.ApplicationID)
		overlayString(&cfg.Discord.GuildID, d.GuildID)
		overlayString(&cfg.Discord.RequestChannelID, d.RequestChannelID)
		overlayString(&cfg.Discord.AcceptedChannelID, d.AcceptedChannelID)
		overlayString(&cfg.Discord.RejectedChannelID, d.RejectedChannelID)
		overlayString(&cfg.Discord.AuthorRoleID, d.AuthorRoleID)
		overlayString(&cfg.Discord.Token, d.Token)
		overlayString(&cfg.Discord.PublicKey, d.PublicKey)
	}

	if p := fc.Provisioning; p != nil {
		if p.FreestyleJobs != nil {
			cfg.Provisioning.FreestyleJobs = *p.FreestyleJobs
		}
		overlayString(&cfg.Provisioning.GroupNamePattern, p.GroupNamePattern)
		overlayString(&cfg.Provisioning.AcceptedTemplate, p.AcceptedTemplate)
		overlayString(&cfg.Provisioning.DeniedTemplate, p.DeniedTemplate)
		if p.InteractionDedupTTLSeconds > 0 {
			cfg.Provisioning.InteractionDedupTTLSeconds = p.InteractionDedupTTLSeconds
		}
	}

	for name, section := range fc.Services {
		copied := make(map[string]any, len(section))
		for k, v := range section {
			copied[k] = v
		}
		cfg.Services[name] = copied
	}
}

func overlayString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// overlayFlags overlays non-nil flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) {
	if f.ListenAddr != nil && *f.ListenAddr != "" {
		cfg.ListenAddr = *f.ListenAddr
	}
	if f.LoggingLevel != nil && *f.LoggingLevel != "" {
		cfg.Logging.Level = *f.LoggingLevel
	}
	if f.StoreDriver != nil && *f.StoreDriver != "" {
		cfg.Store.Driver = *f.StoreDriver
	}
	if f.DataDir != nil && *f.DataDir != "" {
		cfg.Store.DataDir = *f.DataDir
	}
	if f.SSRFMode != nil && *f.SSRFMode != "" {
		cfg.OutboundHTTP.SSRFMode = *f.SSRFMode
	}
}

// validateEnums validates enum-like config fields and returns an error for invalid values.
func validateEnums(cfg *Config) error {
	switch cfg.OutboundHTTP.SSRFMode {
	case "strict", "off":
	default:
		return fmt.Errorf("invalid outbound_http.ssrf_mode %q: must be one of strict, off", cfg.OutboundHTTP.SSRFMode)
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of trace, debug, info, warn, error", cfg.Logging.Level)
	}

	switch cfg.Store.Driver {
	case "json", "sqlite", "mirror":
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of json, sqlite, mirror", cfg.Store.Driver)
	}

	return nil
}

// validateValues checks free-form values that must parse.
func validateValues(cfg *Config) error {
	if _, err := regexp.Compile(cfg.Provisioning.GroupNamePattern); err != nil {
		return fmt.Errorf("invalid provisioning.group_name_pattern: %w", err)
	}
	if u, err := url.Parse(cfg.Discord.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid discord.api_url %q: must be an absolute URL", cfg.Discord.APIURL)
	}
	if cfg.Provisioning.InteractionDedupTTLSeconds <= 0 {
		return fmt.Errorf("invalid provisioning.interaction_dedup_ttl_seconds %d: must be positive", cfg.Provisioning.InteractionDedupTTLSeconds)
	}
	return nil
}
