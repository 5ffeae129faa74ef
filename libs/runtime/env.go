package runtime

import "os"

// Getenv reads an env var, treating empty as unset. Service mains use the
// typed helpers in libs/config instead; this is for tools and flag defaults.
func Getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

