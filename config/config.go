// Package config loads runtime settings from the environment. A local .env
// file is honored in development via godotenv; real deployments set the
// variables directly.
package config

import (
	"errors"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Env         string // debug or release
	MongoURI    string
	DBName      string
	JWTSecret   string
	Origins     []string
	VAPIDPublic string
	VAPIDSecret string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading environment directly")
	}

	cfg := &Config{
		Port:        getenv("PORT", "8080"),
		Env:         getenv("GIN_MODE", "debug"),
		MongoURI:    os.Getenv("MONGODB_URI"),
		DBName:      getenv("DB_NAME", "gather"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		VAPIDPublic: os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDSecret: os.Getenv("VAPID_PRIVATE_KEY"),
	}

	origins := getenv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.Origins = append(cfg.Origins, o)
		}
	}

	if cfg.MongoURI == "" || cfg.JWTSecret == "" {
		return nil, errors.New("MONGODB_URI and JWT_SECRET must be set")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
