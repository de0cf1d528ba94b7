package cli

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const envPrefix = "QUIZTUNNEL_"

// loadEnvFromDotEnv copies QUIZTUNNEL_* entries from a .env file into the
// process environment. Variables that are already set win.
func loadEnvFromDotEnv(path string) {
	values, err := godotenv.Read(path)
	if err != nil {
		return
	}
	for key, value := range values {
		if !strings.HasPrefix(key, envPrefix) {
			continue
		}
		if existing := strings.TrimSpace(os.Getenv(key)); existing != "" {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
