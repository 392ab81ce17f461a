package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AWS    AWSConfig
	Tables TablesConfig
	API    APIConfig
}

type AWSConfig struct {
	Region           string
	EndpointOverride string
	OrdersQueueURL   string
}

// TablesConfig names every DynamoDB table the engine touches.
type TablesConfig struct {
	Customers    string
	Games        string
	GameKeys     string
	KeyCodes     string
	Ownership    string
	Orders       string
	OrderDetails string
	Idempotency  string
}

type APIConfig struct {
	RunLocal       bool
	Addr           string
	IdempotencyTTL time.Duration
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	ttlHours, err := strconv.Atoi(getEnv("IDEMPOTENCY_TTL_HOURS", "48"))
	if err != nil {
		return nil, fmt.Errorf("IDEMPOTENCY_TTL_HOURS: %w", err)
	}

	return &Config{
		AWS: AWSConfig{
			Region:           getEnv("AWS_REGION", "us-east-1"),
			EndpointOverride: os.Getenv("AWS_ENDPOINT_OVERRIDE"),
			OrdersQueueURL:   os.Getenv("ORDERS_QUEUE_URL"),
		},
		Tables: TablesConfig{
			Customers:    getEnv("CUSTOMERS_TABLE", "customers"),
			Games:        getEnv("GAMES_TABLE", "games"),
			GameKeys:     getEnv("GAME_KEYS_TABLE", "game_keys"),
			KeyCodes:     getEnv("GAME_KEY_CODES_TABLE", "game_key_codes"),
			Ownership:    getEnv("GAME_OWNERSHIP_TABLE", "game_ownership"),
			Orders:       getEnv("ORDERS_TABLE", "orders"),
			OrderDetails: getEnv("ORDER_DETAILS_TABLE", "order_details"),
			Idempotency:  getEnv("IDEMPOTENCY_TABLE", "idempotency"),
		},
		API: APIConfig{
			RunLocal:       os.Getenv("RUN_LOCAL") == "true",
			Addr:           getEnv("HTTP_ADDR", ":8080"),
			IdempotencyTTL: time.Duration(ttlHours) * time.Hour,
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) Validate() error {
	tables := map[string]string{
		"CUSTOMERS_TABLE":      c.Tables.Customers,
		"GAMES_TABLE":          c.Tables.Games,
		"GAME_KEYS_TABLE":      c.Tables.GameKeys,
		"GAME_KEY_CODES_TABLE": c.Tables.KeyCodes,
		"GAME_OWNERSHIP_TABLE": c.Tables.Ownership,
		"ORDERS_TABLE":         c.Tables.Orders,
		"ORDER_DETAILS_TABLE":  c.Tables.OrderDetails,
		"IDEMPOTENCY_TABLE":    c.Tables.Idempotency,
	}
	for env, name := range tables {
		if name == "" {
			return fmt.Errorf("%s is required", env)
		}
	}
	if c.API.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL_HOURS must be positive")
	}
	return nil
}
