package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func String(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func RequiredString(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func Port(key, fallback string) (string, error) {
	v := String(key, fallback)
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, v)
	}
	return v, nil
}


func Int(key string, fallback int) int {
	v, err := strconv.Atoi(String(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

// Seconds reads an integer number of seconds and returns it as a duration.
func Seconds(key string, fallback time.Duration) time.Duration {
	v, err := strconv.Atoi(String(key, ""))
	if err != nil || v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Second
}

func Bool(key string, fallback bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
