package sftp

import (
	"errors"
	"os"
	"strconv"
)

// Errors specific to the SFTP backend.
var (
	ErrHostRequired = errors.New("sftp: host is required")
	ErrUserRequired = errors.New("sftp: user is required")
)

// Config holds configuration for the SFTP backend.
type Config struct {
	// Host is the SFTP server hostname or IP address (required).
	Host string

	// Port is the SSH port. Default: 22.
	Port int

	// User is the SSH username (required).
	User string

	// Password and KeyFile select the authentication methods. At least one is required.
	Password      string
	KeyFile       string
	KeyPassphrase string

	// Root is the base directory on the remote server.
	Root string

	// KnownHostsFile enables host key verification against an OpenSSH
	// known_hosts file. When empty, host keys are not verified.
	KnownHostsFile string

	// Timeout is the connection timeout in seconds. Default: 30.
	Timeout int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Port:    22,
		Timeout: 30,
	}
}

// ConfigFromEnv creates a Config from OMNICAS_SFTP_* environment variables:
// HOST, PORT, USER, PASSWORD, KEY_FILE, KEY_PASSPHRASE, ROOT, KNOWN_HOSTS, TIMEOUT.
func ConfigFromEnv() Config {
	m := map[string]string{}
	for key, env := range map[string]string{
		"host":           "OMNICAS_SFTP_HOST",
		"port":           "OMNICAS_SFTP_PORT",
		"user":           "OMNICAS_SFTP_USER",
		"password":       "OMNICAS_SFTP_PASSWORD",
		"key_file":       "OMNICAS_SFTP_KEY_FILE",
		"key_passphrase": "OMNICAS_SFTP_KEY_PASSPHRASE",
		"root":           "OMNICAS_SFTP_ROOT",
		"known_hosts":    "OMNICAS_SFTP_KNOWN_HOSTS",
		"timeout":        "OMNICAS_SFTP_TIMEOUT",
	} {
		if v := os.Getenv(env); v != "" {
			m[key] = v
		}
	}
	return ConfigFromMap(m)
}

// ConfigFromMap creates a Config from a string map.
// Supported keys: host, port, user, password, key_file, key_passphrase,
// root, known_hosts, timeout.
func ConfigFromMap(m map[string]string) Config {
	config := DefaultConfig()

	config.Host = m["host"]
	config.User = m["user"]
	config.Password = m["password"]
	config.KeyFile = m["key_file"]
	config.KeyPassphrase = m["key_passphrase"]
	config.Root = m["root"]
	config.KnownHostsFile = m["known_hosts"]
	if v, ok := m["port"]; ok {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			config.Port = port
		}
	}
	if v, ok := m["timeout"]; ok {
		if timeout, err := strconv.Atoi(v); err == nil && timeout > 0 {
			config.Timeout = timeout
		}
	}

	return config
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Host == "" {
		return ErrHostRequired
	}
	if c.User == "" {
		return ErrUserRequired
	}
	return nil
}
