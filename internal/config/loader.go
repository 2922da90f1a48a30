package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/logsieve/internal/sanitize"
)

const (
	maxConfigFileSize = 1 << 20

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "LOGSIEVE_"

	systemConfigDir = "/etc/logsieve"
)

func userConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "logsieve"), nil
}

// DefaultConfigPath returns ~/.config/logsieve/config.yaml.
func DefaultConfigPath() (string, error) {
	dir, err := userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LoadWithFile builds a Config from defaults, then the YAML file at
// configPath (DefaultConfigPath when empty), then LOGSIEVE_* environment
// variables. A missing file leaves the defaults in place.
//
// The file may hold sink credentials. It must live under
// ~/.config/logsieve/ or /etc/logsieve/ after symlink resolution, be mode
// 0600 or 0400 and be at most 1MiB.
//
// Environment keys lose the prefix; the first underscore separates the
// section and each double underscore descends a level:
//
//	LOGSIEVE_SAMPLING_RATE           -> sampling.rate
//	LOGSIEVE_DISPATCH_DRAIN_TIMEOUT  -> dispatch.drain_timeout
//	LOGSIEVE_SINK_NATS__URL          -> sink.nats.url
//	LOGSIEVE_SAMPLING_EXCLUDED_PATHS -> sampling.excluded_paths (comma separated)
//
// When sanitize.policy_file is set the TOML policy it names replaces the
// inline sanitize policy.
func LoadWithFile(configPath string) (*Config, error) {
	if configPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}
	if err := checkConfigLocation(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	k := koanf.New(".")

	content, err := readConfigFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if path := cfg.Sanitize.PolicyFile; path != "" {
		policy, err := sanitize.LoadPolicyFile(path)
		if err != nil {
			return nil, fmt.Errorf("sanitize policy file %s: %w", path, err)
		}
		cfg.Sanitize.Policy = policy
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps LOGSIEVE_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + strings.ReplaceAll(rest, "__", ".")
}

// readConfigFile checks mode and size on the descriptor it reads from, so
// the file cannot be swapped between check and read. A missing file is
// returned unwrapped.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if err := checkConfigFile(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: grew past %d bytes while reading", maxConfigFileSize)
	}
	return content, nil
}

// checkConfigLocation accepts paths inside the user or system config
// directory, comparing symlink-resolved forms. The file need not exist.
func checkConfigLocation(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	target := resolve(abs)

	userDir, err := userConfigDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{userDir, systemConfigDir} {
		dir = resolve(dir)
		if target == dir || strings.HasPrefix(target, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("%s is outside ~/.config/logsieve/ and %s/", path, systemConfigDir)
}

// resolve follows symlinks when path exists and returns it unchanged
// otherwise.
func resolve(path string) string {
	if r, err := filepath.EvalSymlinks(path); err == nil {
		return r
	}
	return path
}

func checkConfigFile(info fs.FileInfo) error {
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0o600 && perm != 0o400 {
			return fmt.Errorf("insecure config file permissions %v: want 0600 or 0400", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes, limit %d", info.Size(), maxConfigFileSize)
	}
	return nil
}
