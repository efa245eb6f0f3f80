package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// secretsEnv holds secrets that are usually injected through the environment
// instead of the config file.
type secretsEnv struct {
	DiscordToken     string `env:"CODEMC_DISCORD_TOKEN"`
	DiscordPublicKey string `env:"CODEMC_DISCORD_PUBLIC_KEY"`
	JenkinsToken     string `env:"CODEMC_JENKINS_TOKEN"`
	NexusPassword    string `env:"CODEMC_NEXUS_PASSWORD"`
}

// parseEnv parses the secret environment variables.
func parseEnv() (secretsEnv, error) {
	var s secretsEnv
	if err := env.Parse(&s); err != nil {
		return secretsEnv{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

// overlayEnv applies non-empty environment secrets onto cfg.
func overlayEnv(cfg *Config) error {
	s, err := parseEnv()
	if err != nil {
		return err
	}
	overlayString(&cfg.Discord.Token, s.DiscordToken)
	overlayString(&cfg.Discord.PublicKey, s.DiscordPublicKey)
	if s.JenkinsToken != "" {
		cfg.setServiceValue("jenkins", "token", s.JenkinsToken)
	}
	if s.NexusPassword != "" {
		cfg.setServiceValue("nexus", "password", s.NexusPassword)
	}
	return nil
}
