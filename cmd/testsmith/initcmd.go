package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"testsmith/pkg/config"
)

// runInit creates the project configuration directory and optionally stores
// encrypted provider API keys.
func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	project := fs.String("project", ".", "Project directory to initialize")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	// LoadConfig writes the default config when none exists.
	if err := config.LoadConfig(*project); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	configPath := filepath.Join(*project, config.ProjectConfigDir, config.ProjectConfigFilename)
	fmt.Printf("Project configuration written to %s\n", configPath)

	if config.SecretsFileExists(*project) {
		fmt.Println("Encrypted secrets file already exists; leaving it untouched.")
		return 0
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("Store provider API keys encrypted in this project? [y/N]: ")
	if !scanner.Scan() || !strings.HasPrefix(strings.ToLower(strings.TrimSpace(scanner.Text())), "y") {
		fmt.Println("Skipping credential storage. API keys will be read from the environment.")
		return 0
	}

	password, err := promptForPassword()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	secrets := make(map[string]string)
	for _, name := range []string{
		config.EnvAnthropicAPIKey,
		config.EnvOpenAIAPIKey,
		config.EnvGoogleAPIKey,
	} {
		fmt.Printf("Enter %s (optional, press Enter to skip): ", name)
		if !scanner.Scan() {
			break
		}
		if value := strings.TrimSpace(scanner.Text()); value != "" {
			secrets[name] = value
		}
	}
	if len(secrets) == 0 {
		fmt.Println("No keys entered. Skipping credential storage.")
		return 0
	}

	if err := config.EncryptSecretsFile(*project, password, secrets); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to encrypt secrets: %v\n", err)
		return 1
	}
	fmt.Printf("Credentials saved to %s\n",
		filepath.Join(*project, config.ProjectConfigDir, "secrets.json.enc"))
	fmt.Println("Set TESTSMITH_PASSWORD to skip the password prompt at generation time.")
	return 0
}

// promptForPassword prompts for a password with confirmation, masked input.
func promptForPassword() (string, error) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Print("Enter a password for this project: ")
		password1, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		fmt.Print("Confirm password: ")
		password2, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		if !bytes.Equal(password1, password2) {
			if attempt < maxAttempts {
				fmt.Println("Passwords do not match. Please try again.")
				continue
			}
			return "", fmt.Errorf("passwords do not match after %d attempts", maxAttempts)
		}

		password := string(password1)
		for i := range password1 {
			password1[i] = 0
		}
		for i := range password2 {
			password2[i] = 0
		}
		return password, nil
	}
	return "", fmt.Errorf("failed to get matching passwords")
}
