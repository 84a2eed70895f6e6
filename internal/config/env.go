package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// EnvPrefix namespaces every environment setting
const EnvPrefix = "COOKIESHOP_"

// EnvSettings reads settings from the environment. The key "log.max_size_mb"
// is read from COOKIESHOP_LOG_MAX_SIZE_MB.
type EnvSettings struct {
	lookup func(string) (string, bool)
}

// NewEnvSettings reads the process environment
func NewEnvSettings() *EnvSettings {
	return &EnvSettings{lookup: os.LookupEnv}
}

// EnvKey returns the variable name for a setting key
func EnvKey(key string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return EnvPrefix + strings.ToUpper(r.Replace(key))
}

// GetSetting implements SettingsGetter
func (e *EnvSettings) GetSetting(key string) (string, error) {
	val, _ := e.lookup(EnvKey(key))
	return strings.TrimSpace(val), nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		log.Debug().Str("path", path).Msg("Loaded environment file")
	}
	return nil
}
