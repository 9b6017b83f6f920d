package config

import "time"

// ServerConfig holds runtime configuration for the orchestrator server.
type ServerConfig struct {
	Environment   string
	Addr          string
	LogLevel      string
	DatabaseURL   string
	MigrationsDir string

	DockerHost string

	StopTimeout   time.Duration
	PullTimeout   time.Duration
	CreateTimeout time.Duration
	StartTimeout  time.Duration
	RemoveTimeout time.Duration
	RetryMax      int
	RetryBase     time.Duration

	HealthInterval     time.Duration
	HealthProbeTimeout time.Duration
	BusRedisAddr       string
	BusRedisPassword   string
	BusRedisDB         int

	SwapperImage     string
	RegistryServer   string
	RegistryUser     string
	RegistryPassword string

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadServerConfig constructs a ServerConfig from environment variables.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("RSG_ADDR", ":8585"),
		LogLevel:      GetString("RSG_LOG_LEVEL", "info"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://rsg:rsg@db:5432/rsg?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "./db/migrations"),

		DockerHost: GetString("DOCKER_HOST", ""),

		StopTimeout:   GetSeconds("RSG_STOP_TIMEOUT_SECONDS", 30),
		PullTimeout:   GetSeconds("RSG_PULL_TIMEOUT_SECONDS", 300),
		CreateTimeout: GetSeconds("RSG_CREATE_TIMEOUT_SECONDS", 60),
		StartTimeout:  GetSeconds("RSG_START_TIMEOUT_SECONDS", 60),
		RemoveTimeout: GetSeconds("RSG_REMOVE_TIMEOUT_SECONDS", 60),
		RetryMax:      GetInt("RSG_RUNTIME_RETRY_MAX", 2),
		RetryBase:     time.Duration(GetInt("RSG_RUNTIME_RETRY_BASE_MS", 500)) * time.Millisecond,

		HealthInterval:     GetSeconds("RSG_HEALTH_INTERVAL_SECONDS", 30),
		HealthProbeTimeout: GetSeconds("RSG_HEALTH_PROBE_TIMEOUT_SECONDS", 5),
		BusRedisAddr:       GetString("RSG_BUS_REDIS_ADDR", ""),
		BusRedisPassword:   GetString("RSG_BUS_REDIS_PASSWORD", ""),
		BusRedisDB:         GetInt("RSG_BUS_REDIS_DB", 0),

		SwapperImage:     GetString("RSG_SWAPPER_IMAGE", ""),
		RegistryServer:   GetString("RSG_REGISTRY_SERVER", ""),
		RegistryUser:     GetString("RSG_REGISTRY_USER", ""),
		RegistryPassword: GetString("RSG_REGISTRY_PASSWORD", ""),

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
