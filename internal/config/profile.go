package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// passwordCommandTimeout bounds how long a password command may run.
const passwordCommandTimeout = 5 * time.Second

// ConnectionProfile holds the connection parameters for one environment.
// Values are copied out of Config by Resolve and are never mutated afterwards.
type ConnectionProfile struct {
	Environment Environment `yaml:"environment"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`

	// Exactly one secret source is set. Password may be empty for trust
	// authentication as long as it was injected explicitly.
	Password        string `yaml:"password,omitempty"`
	PasswordCommand string `yaml:"password_command,omitempty"`
	passwordSet     bool

	Charset         string        `yaml:"charset"`
	Timezone        string        `yaml:"timezone"`
	SSLMode         string        `yaml:"sslmode"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ApplicationName string        `yaml:"application_name"`
}

// Addr returns host:port.
func (p ConnectionProfile) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// HasSecret reports whether a password or password command was injected.
func (p ConnectionProfile) HasSecret() bool {
	return p.passwordSet || p.PasswordCommand != ""
}

// WithPassword returns a copy of p using password as its injected secret.
// It is used by callers that obtain the secret themselves, e.g. an
// interactive prompt.
func (p ConnectionProfile) WithPassword(password string) ConnectionProfile {
	p.Password = password
	p.PasswordCommand = ""
	p.passwordSet = true
	return p
}

// Secret returns the password for this profile, running the password command
// when one is configured. The command wins over an injected password.
func (p ConnectionProfile) Secret(ctx context.Context) (string, error) {
	if p.PasswordCommand != "" {
		password, err := executePasswordCommand(ctx, p.PasswordCommand)
		if err != nil {
			return "", &ConfigurationError{Field: "password_command", Reason: "password command failed", Err: err}
		}
		return password, nil
	}
	if !p.passwordSet {
		return "", missing("password")
	}
	return p.Password, nil
}

// Redacted returns a copy of p that is safe to print or log.
func (p ConnectionProfile) Redacted() ConnectionProfile {
	if p.Password != "" {
		p.Password = "********"
	}
	return p
}

// executePasswordCommand runs command and returns its trimmed stdout.
func executePasswordCommand(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, passwordCommandTimeout)
	defer cancel()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", fmt.Errorf("empty password command")
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("command timed out after %s", passwordCommandTimeout)
		}
		return "", fmt.Errorf("command failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	password := strings.TrimSpace(stdout.String())
	if password == "" {
		return "", fmt.Errorf("command returned empty password")
	}
	return password, nil
}
