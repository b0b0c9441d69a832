package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Env            string `env:"ENVIRONMENT"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`
	DBFile         string `env:"DB_FILE" envDefault:"subrelay.sqlite"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`

	Reddit struct {
		ClientID     string `env:"REDDIT_CLIENT_ID"`
		ClientSecret string `env:"REDDIT_CLIENT_SECRET"`
		UserAgent    string `env:"REDDIT_USER_AGENT"`
	}
	Discord struct {
		BotToken string `env:"DISCORD_BOT_TOKEN"`
	}
	Relay struct {
		PollIntervalSecs int `env:"POLL_INTERVAL_SECS" envDefault:"60"`
		TickTimeoutSecs  int `env:"TICK_TIMEOUT_SECS" envDefault:"55"`
		FetchLimit       int `env:"FETCH_LIMIT" envDefault:"50"`
		Concurrency      int `env:"RELAY_CONCURRENCY" envDefault:"5"`
	}

	log   *zap.Logger
	creds map[string]string
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) *Config {
	cfg := &Config{log: log}
	if err := env.Parse(cfg); err != nil {
		log.Sugar().Fatalf("failed to parse environment: %v", err)
	}

	if missing := cfg.missingSecrets(); len(missing) > 0 {
		log.Sugar().Fatalf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	creds, err := cfg.parseCreds()
	if err != nil {
		if cfg.Env != "production" {
			cfg.log.Sugar().Infof("%s (credentials will be set to default in development env)", err)
			creds = map[string]string{"admin": "password"}
		} else {
			cfg.log.Sugar().Fatal(err)
		}
	}
	cfg.creds = creds

	return cfg
}

func (cfg *Config) missingSecrets() []string {
	required := map[string]string{
		"REDDIT_CLIENT_ID":     cfg.Reddit.ClientID,
		"REDDIT_CLIENT_SECRET": cfg.Reddit.ClientSecret,
		"REDDIT_USER_AGENT":    cfg.Reddit.UserAgent,
		"DISCORD_BOT_TOKEN":    cfg.Discord.BotToken,
	}

	var missing []string
	for name, value := range required {
		if value == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	result := make(map[string]string)
	for _, cred := range strings.Split(cfg.BasicAuthCreds, ",") {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.TrimSpace(user)] = strings.TrimSpace(pass)
	}

	return result, nil
}
