package backend

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultExecTimeout bounds one external program run.
const DefaultExecTimeout = 30 * time.Second

// Config is the YAML backend configuration.
type Config struct {
	PKCS11 PKCS11Settings `yaml:"pkcs11"`
	Exec   ExecSettings   `yaml:"exec"`
}

// PKCS11Settings holds PKCS#11 specific configuration.
type PKCS11Settings struct {
	// Lib is the path to the PKCS#11 library (.so/.dylib/.dll)
	Lib string `yaml:"lib"`

	// Token identifies the token by label
	Token string `yaml:"token"`

	// TokenSerial identifies the token by serial number
	TokenSerial string `yaml:"token_serial"`

	// Slot identifies the token by slot ID
	Slot *uint `yaml:"slot"`

	// PinEnv is the name of the environment variable containing the PIN
	PinEnv string `yaml:"pin_env"`
}

// SlotInfo describes one PKCS#11 slot.
type SlotInfo struct {
	ID           uint
	Description  string
	TokenLabel   string
	TokenSerial  string
	Manufacturer string
	HasToken     bool
}

// ExecSettings configures the external program backend.
type ExecSettings struct {
	// Timeout bounds a single program run. Zero means DefaultExecTimeout.
	Timeout time.Duration `yaml:"timeout"`

	// Programs maps a family name (dsa, ecdsa, oaep, ...) to the program
	// implementing it. "hash-md5" style keys select a program per
	// algorithm; a bare "hash", "hmac" or "xof" key only serves sha256,
	// sha256 and shake128 respectively.
	Programs map[string]string `yaml:"programs"`
}

// LoadConfig loads the backend configuration from a YAML file. An empty
// path yields an empty configuration.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backend config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse backend config: %w", err)
	}

	if cfg.Exec.Timeout < 0 {
		return nil, fmt.Errorf("invalid backend config: exec.timeout must not be negative")
	}

	return &cfg, nil
}

// Validate checks that the PKCS#11 section is usable.
func (s PKCS11Settings) Validate() error {
	if s.Lib == "" {
		return fmt.Errorf("pkcs11.lib is required")
	}
	if s.PinEnv == "" {
		return fmt.Errorf("pkcs11.pin_env is required (PIN must be provided via environment variable)")
	}
	return nil
}

// GetPIN retrieves the PIN from the environment variable.
func (s PKCS11Settings) GetPIN() (string, error) {
	pin := os.Getenv(s.PinEnv)
	if pin == "" {
		return "", fmt.Errorf("environment variable %s is not set or empty", s.PinEnv)
	}
	return pin, nil
}

// Program returns the program configured for family.
func (s ExecSettings) Program(family string) (string, bool) {
	prog, ok := s.Programs[family]
	return prog, ok && prog != ""
}

// RunTimeout returns the effective per-run timeout.
func (s ExecSettings) RunTimeout() time.Duration {
	if s.Timeout == 0 {
		return DefaultExecTimeout
	}
	return s.Timeout
}
