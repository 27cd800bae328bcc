package config

import (
	"os"
	"strings"
	"time"
)

// GatewayConfig holds AbacatePay integration settings. Token and webhook
// secret have no defaults on purpose: handlers fail with a configuration
// error when they are absent instead of calling the gateway unauthenticated.
type GatewayConfig struct {
	Token          string
	APIBaseURL     string
	WebhookSecret  string
	PublicKey      string
	ReturnURL      string
	CompletionURL  string
	Provider       string
	RequestTimeout time.Duration
}

func LoadGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		Token:          getEnv("ABACATEPAY_TOKEN", ""),
		APIBaseURL:     getEnv("ABACATEPAY_API_URL", "https://api.abacatepay.com"),
		WebhookSecret:  getEnv("ABACATEPAY_WEBHOOK_SECRET", ""),
		PublicKey:      getEnv("ABACATEPAY_PUBLIC_KEY", ""),
		ReturnURL:      getEnv("APP_RETURN_URL", ""),
		CompletionURL:  getEnv("APP_COMPLETION_URL", ""),
		Provider:       getEnv("PAYMENT_PROVIDER", "abacatepay"),
		RequestTimeout: getEnvAsDuration("GATEWAY_TIMEOUT", 15*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
