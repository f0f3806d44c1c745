package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names for secrets and OAuth app credentials.
const (
	EnvEncryptionKey    = "ENCRYPTION_KEY"
	EnvDatabaseURL      = "DATABASE_URL"
	EnvSorClientID      = "SOR_CLIENT_ID"
	EnvSorClientSecret  = "SOR_CLIENT_SECRET"
	EnvSorRedirectURI   = "SOR_REDIRECT_URI"
	EnvGridClientID     = "GRID_CLIENT_ID"
	EnvGridClientSecret = "GRID_CLIENT_SECRET"
	EnvGridRedirectURI  = "GRID_REDIRECT_URI"
)

const encryptionKeyBytes = 32

// OAuthApp is one provider's OAuth client registration.
type OAuthApp struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Secrets holds everything read from the environment: the token
// encryption key, the database location, and both providers' OAuth
// registrations. None of these belong in the TOML file.
type Secrets struct {
	// EncryptionKey is the raw 32-byte AES key, decoded from the hex
	// value of ENCRYPTION_KEY.
	EncryptionKey []byte
	DatabaseURL   string
	Sor           OAuthApp
	Grid          OAuthApp
}

// ReadSecrets loads an optional .env file and reads all secret
// environment variables. Missing or malformed required values are
// reported together so operators fix them in one pass.
func ReadSecrets() (*Secrets, error) {
	// Absent .env is fine; real deployments set variables directly.
	_ = godotenv.Load()

	var errs []error

	keyHex := os.Getenv(EnvEncryptionKey)
	if keyHex == "" {
		errs = append(errs, fmt.Errorf("%s: not set", EnvEncryptionKey))
	}

	var key []byte

	if keyHex != "" {
		var err error

		key, err = hex.DecodeString(keyHex)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: not valid hex: %w", EnvEncryptionKey, err))
		} else if len(key) != encryptionKeyBytes {
			errs = append(errs, fmt.Errorf("%s: must decode to %d bytes, got %d",
				EnvEncryptionKey, encryptionKeyBytes, len(key)))
		}
	}

	dbURL := os.Getenv(EnvDatabaseURL)
	if dbURL == "" {
		errs = append(errs, fmt.Errorf("%s: not set", EnvDatabaseURL))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Secrets{
		EncryptionKey: key,
		DatabaseURL:   dbURL,
		Sor: OAuthApp{
			ClientID:     os.Getenv(EnvSorClientID),
			ClientSecret: os.Getenv(EnvSorClientSecret),
			RedirectURI:  os.Getenv(EnvSorRedirectURI),
		},
		Grid: OAuthApp{
			ClientID:     os.Getenv(EnvGridClientID),
			ClientSecret: os.Getenv(EnvGridClientSecret),
			RedirectURI:  os.Getenv(EnvGridRedirectURI),
		},
	}, nil
}
