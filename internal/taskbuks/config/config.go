package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	HttpPort    string `yaml:"http_port" env:"HTTP_PORT" env-default:"3000"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL" env-required:"true"`
	JWTSecret   string `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	AdminKey    string `yaml:"admin_key" env:"ADMIN_KEY" env-required:"true"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	Offerwall Offerwall `yaml:"offerwall"`
	Postback  Postback  `yaml:"postback"`
}

type Offerwall struct {
	OffersURL       string        `yaml:"offers_url" env:"OFFERWALL_OFFERS_URL"`
	SurveysURL      string        `yaml:"surveys_url" env:"OFFERWALL_SURVEYS_URL"`
	AppID           string        `yaml:"app_id" env:"OFFERWALL_APP_ID"`
	Timeout         time.Duration `yaml:"timeout" env:"OFFERWALL_TIMEOUT" env-default:"5s"`
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"OFFERWALL_REFRESH_INTERVAL" env-default:"5m"`
}

type Postback struct {
	AdGemSecret      string `yaml:"adgem_secret" env:"ADGEM_POSTBACK_SECRET"`
	CPXSecret        string `yaml:"cpx_secret" env:"CPX_POSTBACK_SECRET"`
	RapidReachSecret string `yaml:"rapidreach_secret" env:"RAPIDREACH_POSTBACK_SECRET"`
}

// MustLoad reads CONFIG_PATH (yaml) when set, otherwise pure env.
func MustLoad() *Config {
	cfg := &Config{}
	path := os.Getenv("CONFIG_PATH")
	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			panic(err)
		}
		return cfg
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		panic(err)
	}
	return cfg
}
