package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by MNEMOS_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("MNEMOS_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// DataDir is the root for everything the daemon persists locally:
// keystore, kernel file, sqlite index, local blob store.
func DataDir() string {
	dir := os.Getenv("DATA_DIR")
	if dir == "" {
		return ".mnemos"
	}
	return dir
}

func KeystoreDir() string {
	dir := os.Getenv("KEYSTORE_DIR")
	if dir == "" {
		return filepath.Join(DataDir(), "keys")
	}
	return dir
}

func KernelPath() string {
	path := os.Getenv("KERNEL_PATH")
	if path == "" {
		return filepath.Join(DataDir(), "kernel.json")
	}
	return path
}

// ContentBackend selects the content-addressed blob store.
// Valid values: local, gateway, postgres. Defaults to "local".
func ContentBackend() string {
	backend := os.Getenv("CONTENT_BACKEND")
	if backend == "" {
		return "local"
	}
	return backend
}

func ContentDir() string {
	dir := os.Getenv("CONTENT_DIR")
	if dir == "" {
		return filepath.Join(DataDir(), "blobs")
	}
	return dir
}

// IndexBackend selects the envelope index.
// Valid values: sqlite, postgres. Defaults to "sqlite".
func IndexBackend() string {
	backend := os.Getenv("INDEX_BACKEND")
	if backend == "" {
		return "sqlite"
	}
	return backend
}

func SQLitePath() string {
	path := os.Getenv("SQLITE_PATH")
	if path == "" {
		return filepath.Join(DataDir(), "index.db")
	}
	return path
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func GatewayURL() string {
	return os.Getenv("GATEWAY_URL")
}

// GatewayRPS caps outbound requests to the blob gateway.
// Defaults to 50 if not set.
func GatewayRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("GATEWAY_RPS"), 64)
	if err != nil || rps <= 0 {
		return 50
	}
	return rps
}

// TokenEstimator selects the compiler's budget estimator.
// Valid values: heuristic, bpe. Defaults to "heuristic".
func TokenEstimator() string {
	estimator := os.Getenv("TOKEN_ESTIMATOR")
	if estimator == "" {
		return "heuristic"
	}
	return estimator
}

// TokenEncoding is the BPE encoding name when TOKEN_ESTIMATOR=bpe.
// Defaults to "cl100k_base".
func TokenEncoding() string {
	encoding := os.Getenv("TOKEN_ENCODING")
	if encoding == "" {
		return "cl100k_base"
	}
	return encoding
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
