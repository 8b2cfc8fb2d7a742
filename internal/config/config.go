// Package config loads the runtime's bootstrap configuration (snapshot
// interval, broker/persistence driver selection, dashboard bind
// address) from a YAML or JSON file with environment-variable
// overrides. Adapted from the teacher's pkg/config/config.go: same
// auto-detect-by-extension Load, same reflection-based
// ApplyEnvOverrides walking exported struct fields.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// BrokerKind selects a broker.Broker driver.
type BrokerKind string

const (
	BrokerLocal BrokerKind = "local"
	BrokerNATS  BrokerKind = "nats"
)

// PersistenceKind selects a persistence driver.
type PersistenceKind string

const (
	PersistenceMemory PersistenceKind = "memory"
	PersistenceSQL    PersistenceKind = "sql"
)

// DashboardConfig configures the dashboard HTTP façade.
type DashboardConfig struct {
	BindAddr   string `yaml:"bindAddr" json:"bindAddr"`
	StreamAddr string `yaml:"streamAddr" json:"streamAddr"`
	JWTSecret  string `yaml:"jwtSecret" json:"jwtSecret"`
}

// SQLConfig configures the relational persistence driver.
type SQLConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// NATSConfig configures the networked broker driver.
type NATSConfig struct {
	URL    string `yaml:"url" json:"url"`
	Prefix string `yaml:"prefix" json:"prefix"`
}

// RuntimeConfig is the top-level bootstrap configuration for one
// flowmesh runtime process.
type RuntimeConfig struct {
	Broker           BrokerKind      `yaml:"broker" json:"broker"`
	Persistence      PersistenceKind `yaml:"persistence" json:"persistence"`
	SnapshotInterval int             `yaml:"snapshotInterval" json:"snapshotInterval"`
	Dashboard        DashboardConfig `yaml:"dashboard" json:"dashboard"`
	SQL              SQLConfig       `yaml:"sql" json:"sql"`
	NATS             NATSConfig      `yaml:"nats" json:"nats"`
	ComponentsDir    string          `yaml:"componentsDir" json:"componentsDir"`
}

// Default returns a RuntimeConfig with the in-memory, single-process
// defaults: local broker, in-memory persistence, no dashboard auth.
func Default() RuntimeConfig {
	return RuntimeConfig{
		Broker:           BrokerLocal,
		Persistence:      PersistenceMemory,
		SnapshotInterval: 10,
		Dashboard:        DashboardConfig{BindAddr: ":8088"},
		NATS:             NATSConfig{Prefix: "fsm"},
	}
}

// Load reads path (YAML or JSON, auto-detected by extension) into a
// RuntimeConfig seeded with Default().
func Load(path string) (RuntimeConfig, error) {
	cfg := Default()
	if err := decodeFile(path, &cfg); err != nil {
		return RuntimeConfig{}, err
	}
	return cfg, nil
}

// LoadWithEnv loads path and then applies FLOWMESH_-prefixed
// environment variable overrides.
func LoadWithEnv(path, prefix string) (RuntimeConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return RuntimeConfig{}, err
	}
	if prefix == "" {
		prefix = "FLOWMESH"
	}
	if err := ApplyEnvOverrides(prefix, &cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("config: failed to apply env overrides: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, target *RuntimeConfig) error {
	// #nosec G304 -- path is supplied by the operator launching the runtime.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, target); err != nil {
			return fmt.Errorf("config: failed to unmarshal %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("config: failed to unmarshal %s: %w", path, err)
	}
	return nil
}

// ApplyEnvOverrides walks target's exported fields and overrides any
// whose PREFIX_FIELDNAME environment variable is set. Supports nested
// structs (recursing with an extended prefix), strings, ints, bools.
func ApplyEnvOverrides(prefix string, target *RuntimeConfig) error {
	val := reflect.ValueOf(target).Elem()
	return applyEnvToStruct(prefix, val)
}

func applyEnvToStruct(prefix string, val reflect.Value) error {
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		if !field.CanSet() {
			continue
		}

		envKey := strings.ToUpper(prefix + "_" + fieldType.Name)
		envKey = strings.ReplaceAll(envKey, "-", "_")

		if field.Kind() == reflect.Struct {
			if err := applyEnvToStruct(envKey, field); err != nil {
				return err
			}
			continue
		}

		envValue, set := os.LookupEnv(envKey)
		if !set {
			continue
		}
		if err := setFieldFromEnv(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envKey, err)
		}
	}
	return nil
}

func setFieldFromEnv(field reflect.Value, envValue string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var intVal int64
		if _, err := fmt.Sscanf(envValue, "%d", &intVal); err != nil {
			return fmt.Errorf("invalid integer value: %s", envValue)
		}
		field.SetInt(intVal)
	case reflect.Bool:
		field.SetBool(strings.EqualFold(envValue, "true") || envValue == "1")
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}
