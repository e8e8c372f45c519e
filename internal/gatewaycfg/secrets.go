package gatewaycfg

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// TokenEnvVar carries the gateway auth token in the secrets file.
const TokenEnvVar = "CLAWDBOT_GATEWAY_TOKEN"

// Secrets are written to the env file the supervised gateway sources once
// at launch.
type Secrets struct {
	Token    string
	Provider Provider
	APIKey   string
}

// Render returns the file body: one `export KEY="value"` line per variable.
func (s Secrets) Render() string {
	var b strings.Builder
	writeExport(&b, TokenEnvVar, s.Token)
	if v := s.Provider.KeyEnvVar(); v != "" && s.APIKey != "" {
		writeExport(&b, v, s.APIKey)
	}
	return b.String()
}

func writeExport(b *strings.Builder, key, value string) {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")
	fmt.Fprintf(b, "export %s=\"%s\"\n", key, r.Replace(value))
}

// WriteSecrets writes the env file with mode 0600.
func WriteSecrets(path string, s Secrets) error {
	if err := writeFileAtomic(path, []byte(s.Render()), 0o600); err != nil {
		return fmt.Errorf("write gateway secrets: %w", err)
	}
	return nil
}

// ClearSecrets removes the env file. A missing file is not an error.
func ClearSecrets(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove gateway secrets: %w", err)
	}
	return nil
}
