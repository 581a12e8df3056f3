// Package auth resolves and validates the Gemini API key.
package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// KeyEnv names the environment variable holding the API key.
	KeyEnv = "GEMINI_API_KEY"

	credentialDir  = ".ai-deck-builder"
	credentialFile = "credentials.gpg"
	passphraseFile = ".gpg-passphrase"
)

// ErrNoKey is returned when no key source is available.
var ErrNoKey = errors.New("API key not found: set GEMINI_API_KEY or store it GPG-encrypted at ~/" + credentialDir + "/" + credentialFile)

// GetAPIKey retrieves the Gemini API key from available sources.
// Priority order:
//  1. configured, usually from the config file or flags
//  2. GEMINI_API_KEY environment variable
//  3. GPG-encrypted file at ~/.ai-deck-builder/credentials.gpg
func GetAPIKey(configured string) (string, error) {
	if key := strings.TrimSpace(configured); key != "" {
		log.Debug().Msg("Using configured API key")
		return key, nil
	}
	if key := os.Getenv(KeyEnv); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, nil
	}

	key, err := getFromGPG()
	if err == nil && key != "" {
		log.Debug().Msg("Using API key from GPG encrypted file")
		return key, nil
	}
	log.Debug().Err(err).Msg("No GPG credentials")
	return "", ErrNoKey
}

// getFromGPG decrypts the API key from the GPG-encrypted credentials file.
func getFromGPG() (string, error) {
	credPath, err := getCredentialPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(credPath); os.IsNotExist(err) {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")
	args := []string{"--decrypt", "--quiet"}
	if p, ok := passphrasePath(); ok {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", p)
	}
	args = append(args, credPath)

	output, err := exec.Command("gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// getCredentialPath returns the full path to the credentials file.
func getCredentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}

// passphrasePath finds an owner-only passphrase file for non-interactive
// decryption, next to the credentials file or in the working directory.
func passphrasePath() (string, bool) {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, credentialDir, passphraseFile))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, passphraseFile))
	}
	for _, p := range candidates {
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		if fi.Mode().Perm()&0o077 != 0 {
			log.Warn().
				Str("passphrase_file", p).
				Str("permissions", fmt.Sprintf("%04o", fi.Mode().Perm())).
				Msg("Passphrase file has insecure permissions (should be 0600); skipping")
			continue
		}
		return p, true
	}
	return "", false
}
