// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"sort"
	"strings"
)

// Config holds the bot configuration.
type Config struct {
	// Mode is the operating mode: production or dev.
	Mode string `toml:"mode"`

	// ListenAddr is the address the interaction endpoint listens on.
	// Example: ":8080"
	ListenAddr string `toml:"listen_addr"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`

	// OutboundHTTP configuration shared by every remote client
	OutboundHTTP OutboundHTTPConfig `toml:"outbound_http"`

	// Store configuration for the identity link registry
	Store StoreConfig `toml:"store"`

	// Discord configuration
	Discord DiscordConfig `toml:"discord"`

	// Provisioning configuration for the accept/deny workflow
	Provisioning ProvisioningConfig `toml:"provisioning"`

	// Services maps remote service names (jenkins, nexus) to raw config maps.
	// Each client decodes its own section via cfg.Decode().
	Services map[string]map[string]any `toml:"services"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `toml:"level"`
}

// OutboundHTTPConfig holds settings for outbound HTTP requests.
type OutboundHTTPConfig struct {
	// SSRFMode is one of: strict, off. Jenkins and Nexus usually live on a
	// private network, so production defaults to off.
	SSRFMode string `toml:"ssrf_mode"`

	// TimeoutMS is the overall request timeout in milliseconds
	TimeoutMS int `toml:"timeout_ms"`

	// ConnectTimeoutMS is the connection timeout in milliseconds
	ConnectTimeoutMS int `toml:"connect_timeout_ms"`

	// MaxResponseBytes is the maximum response body size
	MaxResponseBytes int64 `toml:"max_response_bytes"`

	// InsecureSkipVerify disables TLS verification (dev-only)
	InsecureSkipVerify bool `toml:"insecure_skip_verify"`

	// UserAgent is sent on every request when set.
	UserAgent string `toml:"user_agent"`
}

// OutboundHTTPConfigDefaults returns the outbound HTTP defaults.
func OutboundHTTPConfigDefaults() OutboundHTTPConfig {
	return OutboundHTTPConfig{
		SSRFMode:         "off",
		TimeoutMS:        15000,
		ConnectTimeoutMS: 3000,
		MaxResponseBytes: 4 << 20,
		UserAgent:        "codemc-bot",
	}
}

// StoreConfig selects the identity link store driver.
type StoreConfig struct {
	// Driver is json, sqlite or mirror.
	Driver string `toml:"driver"`

	// DataDir holds the driver's files.
	DataDir string `toml:"data_dir"`
}

// DiscordConfig holds chat platform settings.
type DiscordConfig struct {
	APIURL            string `toml:"api_url"`
	ApplicationID     string `toml:"application_id"`
	GuildID           string `toml:"guild_id"`
	RequestChannelID  string `toml:"request_channel_id"`
	AcceptedChannelID string `toml:"accepted_channel_id"`
	RejectedChannelID string `toml:"rejected_channel_id"`
	AuthorRoleID      string `toml:"author_role_id"`

	// Token is the bot token. Prefer CODEMC_DISCORD_TOKEN.
	Token string `toml:"token"`

	// PublicKey is the hex Ed25519 key used to verify interactions.
	// Prefer CODEMC_DISCORD_PUBLIC_KEY.
	PublicKey string `toml:"public_key"`
}

// ProvisioningConfig tunes the accept/deny workflow.
type ProvisioningConfig struct {
	// FreestyleJobs creates freestyle jobs instead of Maven jobs.
	FreestyleJobs bool `toml:"freestyle_jobs"`

	// GroupNamePattern is a regular expression; usernames matching it get
	// a group (organisation) CI account.
	GroupNamePattern string `toml:"group_name_pattern"`

	// AcceptedTemplate and DeniedTemplate are text/template strings used
	// for the outcome record description.
	AcceptedTemplate string `toml:"accepted_template"`
	DeniedTemplate   string `toml:"denied_template"`

	// InteractionDedupTTLSeconds is how long interaction ids are remembered.
	InteractionDedupTTLSeconds int `toml:"interaction_dedup_ttl_seconds"`
}

// Service returns a copy of the raw config map for a remote service.
// Returns nil if the service is not configured in [services.<name>].
func (c *Config) Service(name string) map[string]any {
	raw, ok := c.Services[name]
	if !ok {
		return nil
	}
	result := make(map[string]any, len(raw))
	for k, v := range raw {
		result[k] = v
	}
	return result
}

// setServiceValue writes one key of a service section, creating it if needed.
func (c *Config) setServiceValue(service, key string, value any) {
	if c.Services == nil {
		c.Services = make(map[string]map[string]any)
	}
	if c.Services[service] == nil {
		c.Services[service] = make(map[string]any)
	}
	c.Services[service][key] = value
}

// Validate checks the settings required to run the bot.
func (c *Config) Validate() error {
	var missing []string
	required := map[string]string{
		"discord.application_id":      c.Discord.ApplicationID,
		"discord.guild_id":            c.Discord.GuildID,
		"discord.request_channel_id":  c.Discord.RequestChannelID,
		"discord.accepted_channel_id": c.Discord.AcceptedChannelID,
		"discord.rejected_channel_id": c.Discord.RejectedChannelID,
		"discord.author_role_id":      c.Discord.AuthorRoleID,
		"discord.token":               c.Discord.Token,
		"discord.public_key":          c.Discord.PublicKey,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	for _, svc := range []string{"jenkins", "nexus"} {
		if c.Service(svc) == nil {
			missing = append(missing, "services."+svc)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Redacted returns a string representation of the config with secrets redacted.
func (c *Config) Redacted() string {
	var sb strings.Builder
	sb.WriteString("Config{\n")
	sb.WriteString(fmt.Sprintf("  Mode: %q,\n", c.Mode))
	sb.WriteString(fmt.Sprintf("  ListenAddr: %q,\n", c.ListenAddr))
	sb.WriteString(fmt.Sprintf("  Logging: {Level: %q},\n", c.Logging.Level))
	sb.WriteString("  OutboundHTTP: {\n")
	sb.WriteString(fmt.Sprintf("    SSRFMode: %q,\n", c.OutboundHTTP.SSRFMode))
	sb.WriteString(fmt.Sprintf("    TimeoutMS: %d,\n", c.OutboundHTTP.TimeoutMS))
	sb.WriteString(fmt.Sprintf("    MaxResponseBytes: %d,\n", c.OutboundHTTP.MaxResponseBytes))
	sb.WriteString(fmt.Sprintf("    InsecureSkipVerify: %v,\n", c.OutboundHTTP.InsecureSkipVerify))
	sb.WriteString("  },\n")
	sb.WriteString(fmt.Sprintf("  Store: {Driver: %q, DataDir: %q},\n", c.Store.Driver, c.Store.DataDir))
	sb.WriteString("  Discord: {\n")
	sb.WriteString(fmt.Sprintf("    APIURL: %q,\n", c.Discord.APIURL))
	sb.WriteString(fmt.Sprintf("    ApplicationID: %q,\n", c.Discord.ApplicationID))
	sb.WriteString(fmt.Sprintf("    GuildID: %q,\n", c.Discord.GuildID))
	sb.WriteString(fmt.Sprintf("    RequestChannelID: %q,\n", c.Discord.RequestChannelID))
	sb.WriteString(fmt.Sprintf("    AcceptedChannelID: %q,\n", c.Discord.AcceptedChannelID))
	sb.WriteString(fmt.Sprintf("    RejectedChannelID: %q,\n", c.Discord.RejectedChannelID))
	sb.WriteString(fmt.Sprintf("    AuthorRoleID: %q,\n", c.Discord.AuthorRoleID))
	sb.WriteString("    Token: [REDACTED],\n")
	sb.WriteString(fmt.Sprintf("    PublicKey: %q,\n", c.Discord.PublicKey))
	sb.WriteString("  },\n")
	sb.WriteString("  Provisioning: {\n")
	sb.WriteString(fmt.Sprintf("    FreestyleJobs: %v,\n", c.Provisioning.FreestyleJobs))
	sb.WriteString(fmt.Sprintf("    GroupNamePattern: %q,\n", c.Provisioning.GroupNamePattern))
	sb.WriteString(fmt.Sprintf("    InteractionDedupTTLSeconds: %d,\n", c.Provisioning.InteractionDedupTTLSeconds))
	sb.WriteString("  },\n")
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	sb.WriteString(fmt.Sprintf("  Services: %q,\n", names))
	sb.WriteString("}")
	return sb.String()
}
