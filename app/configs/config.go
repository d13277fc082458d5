package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env     string `env:"ENV" env-default:"local"`
	LogsDir string `env:"LOGS_DIR" env-default:"output/logs"`
	DataDir string `env:"DATA_DIR" env-default:"output/db"`

	Telegram TelegramConfig
	HTTP     HTTPConfig
	Session  SessionConfig
	Reminder ReminderConfig
}

type TelegramConfig struct {
	BotToken       string        `env:"TELEGRAM_BOT_TOKEN"`
	PollInterval   time.Duration `env:"TELEGRAM_POLL_INTERVAL" env-default:"2s"`
	TimeoutSeconds int           `env:"TELEGRAM_TIMEOUT_SECONDS" env-default:"20"`
	APIRoot        string        `env:"TELEGRAM_API_ROOT" env-default:"https://api.telegram.org"`
}

type HTTPConfig struct {
	Port int `env:"HTTP_PORT" env-default:"8080"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `env:"SESSION_IDLE_TIMEOUT" env-default:"30m"`
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" env-default:"1m"`
}

type ReminderConfig struct {
	LeadTime time.Duration `env:"REMINDER_LEAD_TIME" env-default:"24h"`
}

// Load reads configuration from the environment. A .env file, if present, is
// loaded by the godotenv autoload import in main.
func Load() (*Config, error) {
	cfg := new(Config)
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
