package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opengrade/marks-pipeline/internal/config"
)

// Taxonomy errors surfaced by the issuer. ErrConfiguration messages never
// include the descriptor value itself.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrConfiguration  = errors.New("storage configuration error")
)

// Connection is the signing identity resolved from a storage connection
// descriptor.
type Connection struct {
	AccountName string
	AccountKey  string
	Endpoint    string
}

// Fixed identity behind the development sentinel. Matches the default MinIO
// root account so local uploads work out of the box.
var developmentConnection = Connection{
	AccountName: "minioadmin",
	AccountKey:  "minioadmin",
	Endpoint:    "http://127.0.0.1:9000",
}

// ParseConnection resolves a connection descriptor to a signing identity.
//
// Two forms are supported: the literal development sentinel, which resolves
// to a well-known local test identity, and a semicolon-delimited key=value
// descriptor carrying AccountName and AccountKey (and optionally Endpoint).
func ParseConnection(descriptor string) (Connection, error) {
	if descriptor == "" {
		return Connection{}, fmt.Errorf("%w: connection descriptor is not set", ErrConfiguration)
	}

	if descriptor == config.DevelopmentStorageSentinel {
		return developmentConnection, nil
	}

	conn := Connection{}
	for _, part := range strings.Split(descriptor, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok || key == "" || value == "" {
			continue
		}
		switch key {
		case "AccountName":
			conn.AccountName = value
		case "AccountKey":
			conn.AccountKey = value
		case "Endpoint":
			conn.Endpoint = value
		}
	}

	if conn.AccountName == "" || conn.AccountKey == "" {
		return Connection{}, fmt.Errorf("%w: descriptor is missing AccountName or AccountKey", ErrConfiguration)
	}
	return conn, nil
}
