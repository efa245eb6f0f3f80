package nexus

// Config is decoded from [services.nexus].
type Config struct {
	// URL is the Nexus root, e.g. https://repo.codemc.io
	URL string `mapstructure:"url"`

	// Username and Password authenticate the admin account.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// BlobStore backs newly created hosted repositories.
	BlobStore string `mapstructure:"blob_store"`

	// EmailDomain builds the mandatory user email address.
	EmailDomain string `mapstructure:"email_domain"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.BlobStore == "" {
		c.BlobStore = "default"
	}
	if c.EmailDomain == "" {
		c.EmailDomain = "users.noreply.codemc.io"
	}
}
