package config

import "github.com/kelseyhightower/envconfig"

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken string `envconfig:"BOT_TOKEN" required:"true"`
	DBPath   string `envconfig:"DB_PATH" default:"./data/tardy.db"`
	Timezone string `envconfig:"TIMEZONE" default:"Asia/Tashkent"`

	// HR backend endpoints; check is mandatory, sync and decision are
	// optional features of the deployment.
	HRCheckURL    string `envconfig:"HR_CHECK_URL" required:"true"`
	HRSyncURL     string `envconfig:"HR_SYNC_URL"`
	HRDecisionURL string `envconfig:"HR_DECISION_URL"`
	HRUser        string `envconfig:"HR_USER"`
	HRPass        string `envconfig:"HR_PASS"`

	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"` // healthz + metrics
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`  // debug|info|warn|error
}

// Load reads environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
