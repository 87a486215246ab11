package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr          string
	JWTSecret     string
	CORSOrigin    string
	MigrationsDir string
	LogLevel      string
	HealthTimeout time.Duration
	// PostgreSQL (content store)
	DatabaseURL string
	// Neo4j (metadata store)
	GraphURI      string
	GraphUser     string
	GraphPassword string
	GraphDatabase string
	// Object storage
	StorageEndpoint   string
	StorageAccessKey  string
	StorageSecretKey  string
	StorageBucket     string
	StorageRegion     string
	StorageUseSSL     bool
	StoragePresignTTL time.Duration
	// Search
	MeiliURL       string
	MeiliMasterKey string
	// Redis document cache; empty disables caching
	RedisURL string
	CacheTTL time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:          getenv("API_ADDR", ":8000"),
		JWTSecret:     getenv("JWT_SECRET_KEY", "nallo-dev-secret"),
		CORSOrigin:    getenv("CORS_ORIGIN", "*"),
		MigrationsDir: getenv("MIGRATIONS_DIR", "./db/migrations"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		HealthTimeout: time.Duration(getenvInt("HEALTH_TIMEOUT_SECONDS", 5)) * time.Second,
		DatabaseURL:   databaseURL(),
		GraphURI:      getenv("GRAPHDB_URI", "bolt://localhost:7687"),
		GraphUser:     getenv("GRAPHDB_USER", "neo4j"),
		GraphPassword: getenv("GRAPHDB_PASSWORD", "nallo-dev"),
		GraphDatabase: getenv("GRAPHDB_DATABASE", "neo4j"),
		// Storage - empty endpoint disables blob mirroring and presigned URLs
		StorageEndpoint:   getenv("STORAGE_ENDPOINT", ""),
		StorageAccessKey:  getenv("STORAGE_ACCESS_KEY", ""),
		StorageSecretKey:  getenv("STORAGE_SECRET_KEY", ""),
		StorageBucket:     getenv("STORAGE_BUCKET", "nallo-documents"),
		StorageRegion:     getenv("STORAGE_REGION", "us-east-1"),
		StorageUseSSL:     getenvBool("STORAGE_USE_SSL", false),
		StoragePresignTTL: time.Duration(getenvInt("STORAGE_PRESIGN_TTL_SECONDS", 900)) * time.Second,
		MeiliURL:          getenv("MEILI_URL", ""),
		MeiliMasterKey:    getenv("MEILI_MASTER_KEY", ""),
		RedisURL:          getenv("REDIS_URL", ""),
		CacheTTL:          time.Duration(getenvInt("CACHE_TTL_SECONDS", 300)) * time.Second,
	}
}

// databaseURL prefers DATABASE_URL and otherwise assembles one from the
// POSTGRES_* variables.
func databaseURL() string {
	if value := strings.TrimSpace(os.Getenv("DATABASE_URL")); value != "" {
		return value
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(getenv("POSTGRES_USER", "nallo"), getenv("POSTGRES_PASSWORD", "nallo")),
		Host:   fmt.Sprintf("%s:%s", getenv("POSTGRES_HOST", "localhost"), getenv("POSTGRES_PORT", "5432")),
		Path:   "/" + getenv("POSTGRES_DB", "nallo"),
	}
	q := u.Query()
	q.Set("sslmode", getenv("POSTGRES_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
