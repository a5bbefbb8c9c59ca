package session

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// DeviceID returns the stable random install id for a session, generating
// and persisting one on first use. The id is sent on the WebSocket upgrade
// so the server can tell a user's installs apart.
func DeviceID(name string) (string, error) {
	path := DeviceIDPath(name)
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	if err := EnsureDir(name); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", err
	}
	return id, nil
}
