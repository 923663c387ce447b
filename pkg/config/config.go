package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Server holds the backend service configuration, read from the
// environment with a .env fallback for local development.
type Server struct {
	Port        string
	DatabaseURL string
	UploadDir   string
	JWTSecret   string
	JWTTTL      time.Duration

	AlertThreshold float64

	// optional integrations, empty disables them
	RedisAddr    string
	MQTTBroker   string
	MQTTClientID string
}

// Kiosk holds the kiosk agent configuration.
type Kiosk struct {
	ServerURL     string
	ControllerURL string
	PollInterval  time.Duration
}

func LoadServer() *Server {
	_ = godotenv.Load()

	return &Server{
		Port:        getEnv("PORT", "3001"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		UploadDir:   getEnv("UPLOAD_DIR", "uploads"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTTTL:      getEnvDuration("JWT_TTL", time.Hour),

		AlertThreshold: getEnvFloat("ALERT_THRESHOLD", 80),

		RedisAddr:    getEnv("REDIS_ADDR", ""),
		MQTTBroker:   getEnv("MQTT_BROKER", ""),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "smartbin-backend"),
	}
}

func LoadKiosk() *Kiosk {
	_ = godotenv.Load()

	return &Kiosk{
		ServerURL:     getEnv("SERVER_URL", "http://localhost:3001"),
		ControllerURL: getEnv("CONTROLLER_URL", "http://localhost:5000"),
		PollInterval:  getEnvDuration("POLL_INTERVAL", time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: failed to parse %s as float, using default: %v", key, err)
		return defaultValue
	}
	return floatValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as duration, using default: %v", key, err)
		return defaultValue
	}
	return d
}
