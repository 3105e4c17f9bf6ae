package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

// promptForPassword reads a password from the terminal without echoing it.
func promptForPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--prompt-password requires an interactive terminal")
	}

	fmt.Fprint(os.Stderr, prompt)
	passwordBytes, err := term.ReadPassword(fd)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(os.Stderr)

	password := string(passwordBytes)
	if password == "" {
		return "", errors.New("empty password entered")
	}
	return password, nil
}
