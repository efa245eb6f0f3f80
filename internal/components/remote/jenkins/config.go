package jenkins

// Config is decoded from [services.jenkins].
type Config struct {
	// URL is the Jenkins root, e.g. https://ci.codemc.io
	URL string `mapstructure:"url"`

	// Username and Token authenticate the admin account (API token).
	Username string `mapstructure:"username"`
	Token    string `mapstructure:"token"`

	// CredentialID names the folder credential holding the repository password.
	CredentialID string `mapstructure:"credential_id"`

	// RepositoryURL is written into job configs as the deployment target.
	RepositoryURL string `mapstructure:"repository_url"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.CredentialID == "" {
		c.CredentialID = "nexus-repository"
	}
}
