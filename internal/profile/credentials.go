package profile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Credentials is the per-profile identity: the local user id and the
// bearer token for the websocket and REST endpoints. Token issuance and
// refresh happen outside the daemon; this file only stores the result.
type Credentials struct {
	UserID string `toml:"user_id"`
	Token  string `toml:"token"`
}

// CredentialsPath returns the credentials file path for a profile.
func CredentialsPath(name string) string {
	return filepath.Join(Dir(name), "credentials.toml")
}

// LoadCredentials reads the profile's credentials file.
func LoadCredentials(name string) (*Credentials, error) {
	var creds Credentials
	if _, err := toml.DecodeFile(CredentialsPath(name), &creds); err != nil {
		return nil, fmt.Errorf("load credentials for profile %s: %w", name, err)
	}
	if creds.UserID == "" {
		return nil, fmt.Errorf("credentials for profile %s missing user_id", name)
	}
	return &creds, nil
}

// SaveCredentials writes the credentials with owner-only permissions.
func SaveCredentials(name string, creds *Credentials) error {
	if err := EnsureDir(name); err != nil {
		return err
	}
	f, err := os.OpenFile(CredentialsPath(name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(creds)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
