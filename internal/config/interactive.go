package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

var (
	inputFile = os.Stdin
)

func guidedInitialization(config *Config) error {
	scanner := bufio.NewScanner(inputFile)

	input, err := ask(scanner, fmt.Sprintf("Enter local directory path [default: %s]", config.LocalDir))
	if err != nil {
		return err
	}
	if input != "" {
		config.LocalDir = input
	}

	input, err = ask(scanner, fmt.Sprintf("Enter storage backend (s3 or gcs) [default: %s]", config.Backend))
	if err != nil {
		return err
	}
	if input != "" {
		config.Backend = input
	}

	input, err = ask(scanner, "Enter bucket name")
	if err != nil {
		return err
	}
	config.Bucket = input

	input, err = ask(scanner, "Enter remote key prefix (may be empty)")
	if err != nil {
		return err
	}
	config.Prefix = input

	switch config.Backend {
	case BackendS3:
		input, err = ask(scanner, "Enter AWS region")
		if err != nil {
			return err
		}
		config.Region = input
	case BackendGCS:
		input, err = ask(scanner, "Enter path to service account credentials JSON")
		if err != nil {
			return err
		}
		config.CredentialsFile = input
	}

	return nil
}

func ask(scanner *bufio.Scanner, prompt string) (string, error) {
	fmt.Printf("%s: ", prompt)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("could not read user input: %w", err)
		}
		return "", nil // EOF or closed input
	}
	return strings.TrimSpace(scanner.Text()), nil
}
