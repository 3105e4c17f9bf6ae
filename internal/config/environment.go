package config

import "strings"

// Environment names the deployment a process runs as. It is fixed at startup.
type Environment string

const (
	Development Environment = "development"
	Test        Environment = "test"
	Production  Environment = "production"
)

// DefaultEnvironment is used when neither SUITE_ENV nor NODE_ENV is set.
const DefaultEnvironment = Development

// Environments returns every known environment in a stable order.
func Environments() []Environment {
	return []Environment{Development, Test, Production}
}

// ParseEnvironment maps a tag such as "production" to its Environment.
// Unknown tags are rejected rather than mapped to a default.
func ParseEnvironment(tag string) (Environment, error) {
	switch env := Environment(strings.ToLower(strings.TrimSpace(tag))); env {
	case Development, Test, Production:
		return env, nil
	case "":
		return "", &ConfigurationError{Field: "environment", Reason: "environment tag is empty"}
	default:
		return "", invalid("environment", "unknown environment %q (expected one of %v)", tag, Environments())
	}
}

// String implements fmt.Stringer.
func (e Environment) String() string {
	return string(e)
}

