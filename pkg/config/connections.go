package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/veridata-io/veridata-engine/pkg/driver"
)

// ConnectionSpec describes one named database target and its pooling
// policy. Specs are never mutated after load.
type ConnectionSpec struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	// Password may be given inline (discouraged outside local setups)
	// or indirected through PasswordEnv.
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
	SSLMode     string `yaml:"ssl_mode"`
	// Path is the database file for embedded drivers (sqlite, duckdb).
	Path string `yaml:"path"`

	// Pool enables connection pooling for this target. Off by default:
	// unpooled connections are opened and closed per call.
	Pool bool `yaml:"pool"`

	// Optional pool tuning. Zero values fall back to the registry-wide
	// defaults in PoolConfig.
	PoolMinSize                   int `yaml:"pool_min_size"`
	PoolMaxSize                   int `yaml:"pool_max_size"`
	PoolIdleTimeoutMinutes        int `yaml:"pool_idle_timeout_minutes"`
	PoolValidationIntervalSeconds int `yaml:"pool_validation_interval_seconds"`
	PoolAcquireTimeoutSeconds     int `yaml:"pool_acquire_timeout_seconds"`
}

// connectionsFile is the on-disk shape of the connections file.
type connectionsFile struct {
	Connections map[string]ConnectionSpec `yaml:"connections"`
}

// LoadConnections parses the named connection specs from a YAML file,
// resolves password_env indirections, and validates every entry.
func LoadConnections(path string) (map[string]ConnectionSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read connections file: %w", err)
	}

	var file connectionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse connections file %s: %w", path, err)
	}

	specs := make(map[string]ConnectionSpec, len(file.Connections))
	for name, spec := range file.Connections {
		resolved, err := resolveSpec(name, spec)
		if err != nil {
			return nil, err
		}
		specs[name] = resolved
	}
	return specs, nil
}

// resolveSpec fills in env-indirected credentials and validates the spec.
func resolveSpec(name string, spec ConnectionSpec) (ConnectionSpec, error) {
	kind, err := driver.ParseKind(spec.Driver)
	if err != nil {
		return spec, fmt.Errorf("connection %q: %w", name, err)
	}

	if spec.PasswordEnv != "" {
		password, ok := os.LookupEnv(spec.PasswordEnv)
		if !ok {
			return spec, fmt.Errorf("connection %q: environment variable %s is not set", name, spec.PasswordEnv)
		}
		spec.Password = password
	}

	if kind.Embedded() {
		if spec.Path == "" && spec.Database == "" {
			return spec, fmt.Errorf("connection %q (%s): path is required", name, kind)
		}
	} else {
		if spec.Host == "" {
			return spec, fmt.Errorf("connection %q (%s): host is required", name, kind)
		}
		if spec.Database == "" {
			return spec, fmt.Errorf("connection %q (%s): database is required", name, kind)
		}
	}

	return spec, nil
}

// Kind returns the parsed driver kind. Specs produced by LoadConnections
// always parse cleanly.
func (s ConnectionSpec) Kind() (driver.Kind, error) {
	return driver.ParseKind(s.Driver)
}

// Target converts the spec into the driver layer's target description.
func (s ConnectionSpec) Target() driver.Target {
	return driver.Target{
		Host:     s.Host,
		Port:     s.Port,
		Database: s.Database,
		User:     s.User,
		Password: s.Password,
		SSLMode:  s.SSLMode,
		Path:     s.Path,
	}
}
