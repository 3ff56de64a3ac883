package config

import (
	"log"
	"os"
	"strconv"
)

// GetEnv returns the environment variable key, or fallback when it is unset.
func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// GetInt reads an integer variable. Unset or unparsable values yield fallback.
func GetInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Invalid integer in %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return i
}
