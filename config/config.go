package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/vitwit/web3checkout/countdown"
	"github.com/vitwit/web3checkout/types"
	"github.com/vitwit/web3checkout/utils"
)

// Environment overrides. Secrets are only read from the environment.
const (
	EnvOrderURL      = "WEB3CHECKOUT_ORDER_URL"
	EnvNotifyURL     = "WEB3CHECKOUT_NOTIFY_URL"
	EnvQuoteURL      = "WEB3CHECKOUT_QUOTE_URL"
	EnvInvoiceURL    = "WEB3CHECKOUT_INVOICE_URL"
	EnvListenAddr    = "WEB3CHECKOUT_LISTEN_ADDR"
	EnvLogLevel      = "WEB3CHECKOUT_LOG_LEVEL"
	EnvCountdown     = "WEB3CHECKOUT_COUNTDOWN_SECONDS"
	EnvInvoiceSecret = "PDF_SECRET"
	EnvPrivateKey    = "WEB3CHECKOUT_PRIVATE_KEY"

	EnvFile = ".env"
)

// Config holds every tunable of the checkout, the proxy and the CLI.
type Config struct {
	OrderURL      string   `toml:"order_url" validate:"required,url"`
	NotifyURL     string   `toml:"notify_url" validate:"omitempty,url"`
	QuoteURL      string   `toml:"quote_url" validate:"required,url"`
	InvoiceURL    string   `toml:"invoice_url" validate:"omitempty,url"`
	FiatCurrency  string   `toml:"fiat_currency" validate:"required,len=3"`
	SuccessURL    string   `toml:"success_url" validate:"required,url"`
	FailURL       string   `toml:"fail_url" validate:"required,url"`
	RedirectHosts []string `toml:"redirect_hosts"`

	CountdownSeconds  int `toml:"countdown_seconds" validate:"min=1"`
	NotifyRetryMillis int `toml:"notify_retry_ms" validate:"min=0"`
	HTTPTimeoutSecs   int `toml:"http_timeout_seconds" validate:"min=1"`

	LogLevel      string `toml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	EnableMetrics bool   `toml:"enable_metrics"`

	ListenAddr  string   `toml:"listen_addr" validate:"required"`
	CORSOrigins []string `toml:"cors_origins"`

	// RPC maps chain keys (eth, bnb, matic) to JSON-RPC endpoints.
	RPC map[string]string `toml:"rpc" validate:"dive,keys,oneof=eth bnb matic,endkeys,url"`

	InvoiceSecret string `toml:"-"`
	PrivateKey    string `toml:"-"`
}

// Default returns a Config usable against the public price API.
func Default() *Config {
	return &Config{
		OrderURL:          "http://localhost:3000/api/web3zahlung",
		QuoteURL:          "https://api.coingecko.com/api/v3/simple/price",
		FiatCurrency:      "EUR",
		SuccessURL:        "https://www.goldsilverstuff.com/zahlung-erfolgreich",
		FailURL:           "https://www.goldsilverstuff.com/zahlung-fehlgeschlagen",
		CountdownSeconds:  countdown.DefaultSeconds,
		NotifyRetryMillis: 600,
		HTTPTimeoutSecs:   15,
		LogLevel:          "info",
		ListenAddr:        ":8080",
		CORSOrigins:       []string{"*"},
		RPC: map[string]string{
			string(types.ChainEthereum): "https://eth.llamarpc.com",
			string(types.ChainBNB):      "https://bsc-dataseed.binance.org",
			string(types.ChainPolygon):  "https://polygon-rpc.com",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies the .env file and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", EnvFile, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) applyEnv() error {
	set := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvOrderURL, &c.OrderURL)
	set(EnvNotifyURL, &c.NotifyURL)
	set(EnvQuoteURL, &c.QuoteURL)
	set(EnvInvoiceURL, &c.InvoiceURL)
	set(EnvListenAddr, &c.ListenAddr)
	set(EnvLogLevel, &c.LogLevel)
	set(EnvInvoiceSecret, &c.InvoiceSecret)
	set(EnvPrivateKey, &c.PrivateKey)

	if v, ok := os.LookupEnv(EnvCountdown); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCountdown, err)
		}
		c.CountdownSeconds = n
	}
	return nil
}

// Validate checks the struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := utils.Validator().Struct(c); err != nil {
		return types.NewError(types.ReasonConfigError, "invalid configuration", err)
	}
	if c.InvoiceURL != "" && c.InvoiceSecret == "" {
		return types.NewError(types.ReasonConfigError, fmt.Sprintf("invoice_url requires %s", EnvInvoiceSecret), nil)
	}
	return nil
}

// NotifyEndpoint is where confirmations are posted; it defaults to OrderURL.
func (c *Config) NotifyEndpoint() string {
	if c.NotifyURL != "" {
		return c.NotifyURL
	}
	return c.OrderURL
}

func (c *Config) NotifyRetryDelay() time.Duration {
	return time.Duration(c.NotifyRetryMillis) * time.Millisecond
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSecs) * time.Second
}
