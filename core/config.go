package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		Address                   string
		DebugAddress              string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		PasswordResetTimeoutDelta time.Duration
		ShutdownTimeout           time.Duration
		RateLimit                 float64 // requests per second per client
		RateBurst                 int
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	TBankConfig struct {
		TerminalKey     string
		Password        string
		APIURL          string
		SuccessURL      string
		FailURL         string
		NotificationURL string
	}

	OpenRouterConfig struct {
		APIKey            string
		BaseURL           string
		Model             string
		RequestsPerSecond float64
		Timeout           time.Duration
	}

	BillingConfig struct {
		FreeCheckCredits int
		RenewalSpec      string        // cron spec
		RenewalLeadTime  time.Duration // how long before expiry auto-renewal is attempted
	}

	Config struct {
		Env             string
		Build           string
		AppName         string
		Debug           bool
		TestMode        bool
		SecretKey       string
		FrontendBaseURL string
		WorkDir         string

		DefaultFromEmailAddr string
		SendgridAPIKey       string
		RollbarToken         string

		Server     ServerConfig
		Database   DatabaseConfig
		TBank      TBankConfig
		OpenRouter OpenRouterConfig
		Billing    BillingConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.AppName, Address: c.DefaultFromEmailAddr}
}

// NewConfig loads the configuration from defaults, the optional `config/.env.<env>` file and the environment.
// Environment variables are prefixed with the upper-cased env name, e.g. `PROD_DATABASE_HOST`.
func NewConfig() *Config {
	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v, env)
	v.AutomaticEnv()

	return &Config{
		Env:             env,
		Build:           v.GetString("build"),
		AppName:         v.GetString("appName"),
		Debug:           v.GetBool("debug"),
		TestMode:        v.GetBool("testMode"),
		SecretKey:       v.GetString("secretKey"),
		FrontendBaseURL: strings.TrimSuffix(v.GetString("frontendBaseURL"), "/"),
		WorkDir:         wd,

		DefaultFromEmailAddr: v.GetString("defaultFromEmail"),
		SendgridAPIKey:       v.GetString("sendgridApiKey"),
		RollbarToken:         v.GetString("rollbarToken"),

		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugAddress:              v.GetString("server.debugAddress"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
			PasswordResetTimeoutDelta: v.GetDuration("server.passwordResetTimeoutDelta"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			RateLimit:                 v.GetFloat64("server.rateLimit"),
			RateBurst:                 v.GetInt("server.rateBurst"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		TBank: TBankConfig{
			TerminalKey:     v.GetString("tbank.terminalKey"),
			Password:        v.GetString("tbank.password"),
			APIURL:          v.GetString("tbank.apiURL"),
			SuccessURL:      v.GetString("tbank.successURL"),
			FailURL:         v.GetString("tbank.failURL"),
			NotificationURL: v.GetString("tbank.notificationURL"),
		},
		OpenRouter: OpenRouterConfig{
			APIKey:            v.GetString("openrouter.apiKey"),
			BaseURL:           v.GetString("openrouter.baseURL"),
			Model:             v.GetString("openrouter.model"),
			RequestsPerSecond: v.GetFloat64("openrouter.requestsPerSecond"),
			Timeout:           v.GetDuration("openrouter.timeout"),
		},
		Billing: BillingConfig{
			FreeCheckCredits: v.GetInt("billing.freeCheckCredits"),
			RenewalSpec:      v.GetString("billing.renewalSpec"),
			RenewalLeadTime:  v.GetDuration("billing.renewalLeadTime"),
		},
	}
}

func setDefaults(v *viper.Viper, env string) {
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "ChecklyTool")
	v.SetDefault("debug", env == "DEV")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("secretKey", "x7#k2-mq$9v!checkly)3bz&0u@r5w=e8t(pl^hd4g*1yc6n")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugAddress", ":4000")
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 30*24*time.Hour)
	v.SetDefault("server.passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.rateLimit", 20.0)
	v.SetDefault("server.rateBurst", 40)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "checkly")
	v.SetDefault("database.user", "checkly")
	v.SetDefault("database.password", "checkly")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", env == "DEV" || env == "TEST")

	v.SetDefault("tbank.apiURL", "https://securepay.tinkoff.ru")
	v.SetDefault("tbank.terminalKey", "")
	v.SetDefault("tbank.password", "")
	v.SetDefault("tbank.successURL", "http://localhost:3000/payment/success")
	v.SetDefault("tbank.failURL", "http://localhost:3000/payment/failed")
	v.SetDefault("tbank.notificationURL", "http://localhost:8000/api/payment/webhook")

	v.SetDefault("openrouter.apiKey", "")
	v.SetDefault("openrouter.baseURL", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "google/gemini-2.5-flash")
	v.SetDefault("openrouter.requestsPerSecond", 2.0)
	v.SetDefault("openrouter.timeout", 90*time.Second)

	v.SetDefault("billing.freeCheckCredits", 5)
	v.SetDefault("billing.renewalSpec", "@every 1h")
	v.SetDefault("billing.renewalLeadTime", 24*time.Hour)
}

// NewTestConfig returns a config suitable for unit tests, without touching the environment.
func NewTestConfig() *Config {
	return &Config{
		Env:                  "TEST",
		Build:                "test",
		AppName:              "ChecklyTool",
		TestMode:             true,
		SecretKey:            "secret",
		FrontendBaseURL:      "http://localhost:3000",
		DefaultFromEmailAddr: "noreply@localhost",
		WorkDir:              Getwd(),
		Server: ServerConfig{
			Host:                      "localhost",
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
			ShutdownTimeout:           time.Second,
		},
		TBank: TBankConfig{
			TerminalKey:     "TinkoffBankTest",
			Password:        "TinkoffBankTest",
			NotificationURL: "http://localhost:8000/api/payment/webhook",
		},
		OpenRouter: OpenRouterConfig{Model: "test-model"},
		Billing: BillingConfig{
			FreeCheckCredits: 5,
			RenewalSpec:      "@every 1h",
			RenewalLeadTime:  24 * time.Hour,
		},
	}
}
