package pipeline

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Credentials is the one-time admin material for a pipeline: a bcrypt
// password hash and the identity provider's client secret. Both are
// generated on first configure and persisted in dex/dex.env; reconfigure
// reuses the stored values and never rotates them.
type Credentials struct {
	PassHash     string
	ClientSecret string

	// Password is set only when the credentials were freshly generated,
	// so configure can show it to the operator exactly once.
	Password string
}

// LoadOrGenerateCredentials returns the credentials stored in an existing
// dex env file, or generates fresh ones when the file is absent or
// incomplete.
func LoadOrGenerateCredentials(dexEnvPath string) (*Credentials, error) {
	if creds, err := readDexEnv(dexEnvPath); err == nil && creds != nil {
		return creds, nil
	}

	password := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	if err != nil {
		return nil, fmt.Errorf("failed to hash admin password: %w", err)
	}
	return &Credentials{
		PassHash:     string(hash),
		ClientSecret: uuid.NewString(),
		Password:     password,
	}, nil
}

func readDexEnv(path string) (*Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	creds := &Credentials{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value = strings.Trim(value, "'\"")
		switch key {
		case "ADMIN_PASSHASH":
			creds.PassHash = value
		case "CLIENT_SECRET":
			creds.ClientSecret = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if creds.PassHash == "" || creds.ClientSecret == "" {
		return nil, nil
	}
	return creds, nil
}

// FormatDexEnv renders the credentials file consumed by the identity
// provider container.
func (c *Credentials) FormatDexEnv() []byte {
	return []byte(fmt.Sprintf("ADMIN_PASSHASH='%s'\nCLIENT_SECRET='%s'\n", c.PassHash, c.ClientSecret))
}

// FormatBasicAuth renders the htpasswd entry for the reverse proxy's
// basic-auth middleware.
func (c *Credentials) FormatBasicAuth() []byte {
	return []byte(fmt.Sprintf("admin:%s\n", c.PassHash))
}
