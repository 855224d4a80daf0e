package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

var (
	envFilePath      string
	settingsFilePath string
	parseOnce        sync.Once
	exportMu         sync.Mutex
)

// MustNew is New that panics on error. Intended for process start-up.
func MustNew[T any](prefix string) *T {
	conf, err := New[T](prefix)
	if err != nil {
		panic(err)
	}
	return conf
}

// New loads the optional .env and settings files into the process environment and decodes
// the variables under prefix into T. Variables already present in the environment win over
// file values.
func New[T any](prefix string) (*T, error) {
	envPath, settingsPath := resolvePaths()

	exportMu.Lock()
	err := loadFiles(envPath, settingsPath)
	exportMu.Unlock()
	if err != nil {
		return nil, err
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, fmt.Errorf("process %q config: %w", prefix, err)
	}

	return &conf, nil
}

func loadFiles(envPath, settingsPath string) error {
	if settingsPath != "" {
		if err := exportEnvironment(settingsPath); err != nil {
			return fmt.Errorf("failed to load settings file: %w", err)
		}
	} else if err := exportEnvironmentIfExists("config/settings.yaml"); err != nil {
		return fmt.Errorf("failed to load default settings file: %w", err)
	}

	if envPath != "" {
		if err := exportEnvironment(envPath); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	} else if err := exportEnvironmentIfExists(".env"); err != nil {
		return fmt.Errorf("failed to load default env file: %w", err)
	}
	return nil
}

// resolvePaths registers -env and -settings on the default flag set so they show up in
// usage, but reads them straight from os.Args: loggers configured from package init run
// before main has declared its own flags.
func resolvePaths() (string, string) {
	parseOnce.Do(func() {
		if flag.Lookup("env") == nil {
			flag.String("env", "", "path to .env file")
		}
		if flag.Lookup("settings") == nil {
			flag.String("settings", "", "path to settings.yaml file")
		}
		envFilePath = argValue(os.Args[1:], "env")
		settingsFilePath = argValue(os.Args[1:], "settings")
	})
	return strings.TrimSpace(envFilePath), strings.TrimSpace(settingsFilePath)
}

// argValue finds -name value, -name=value and the double dash forms.
func argValue(args []string, name string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		trimmed := strings.TrimLeft(arg, "-")
		if trimmed == arg || len(arg)-len(trimmed) > 2 {
			continue
		}
		if key, value, ok := strings.Cut(trimmed, "="); ok {
			if key == name {
				return value
			}
			continue
		}
		if trimmed == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func exportEnvironmentIfExists(filepath string) error {
	info, err := os.Stat(filepath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return exportEnvironment(filepath)
}

func exportEnvironment(filepath string) error {
	v := viper.New()
	v.SetConfigFile(filepath)
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	flat := Flatten(v.AllSettings())
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, exists := os.LookupEnv(k); exists {
			continue
		}
		if err := os.Setenv(k, flat[k]); err != nil {
			return err
		}
	}

	return nil
}

// Flatten turns nested settings ({"ai": {"provider": "openai"}}) into environment style keys
// ({"AI_PROVIDER": "openai"}). Slices are joined with commas, which envconfig splits back.
func Flatten(settings map[string]any) map[string]string {
	out := make(map[string]string, len(settings))
	flattenInto(out, "", settings)
	return out
}

func flattenInto(out map[string]string, prefix string, settings map[string]any) {
	for k, v := range settings {
		key := strings.ToUpper(k)
		if prefix != "" {
			key = prefix + "_" + key
		}
		switch val := v.(type) {
		case map[string]any:
			flattenInto(out, key, val)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[key] = strings.Join(parts, ",")
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
