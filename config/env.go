package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoadEnv decodes <PREFIX>_<KEY> environment variables into out, falling back
// to defaults. Only keys present in defaults are read. Durations accept Go
// duration strings ("500ms", "15m").
func LoadEnv(prefix string, defaults map[string]any, out any) error {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("decode %s environment: %w", prefix, err)
	}
	return nil
}
