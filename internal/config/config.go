// Package config handles loading and validating the application
// configuration from a db.json file.
//
// The configuration file is expected to be a JSON object with database
// connection details, HTTP listen address, the server's public
// hostname, and an admin key for the management API.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
)

// Config holds all application configuration loaded from db.json.
// The file is read once at startup; changes require a restart.
type Config struct {
	// DBConn is the PostgreSQL host:port (e.g., "infra-postgres:5432").
	DBConn string `json:"dbConn"`

	// DBName is the PostgreSQL database name.
	DBName string `json:"dbName"`

	// DBUser is the PostgreSQL username.
	DBUser string `json:"dbUser"`

	// DBPass is the PostgreSQL password.
	DBPass string `json:"dbPass"`

	// ListenAddr is the HTTP listen address (default ":3000").
	ListenAddr string `json:"listenAddr"`

	// ServiceHost is the public hostname this server is reachable at
	// (e.g., "pds.example.com"). Embedded in every account's did:plc
	// genesis operation and DID document as the AtprotoPersonalDataServer
	// service endpoint, and used as the JWT issuer.
	ServiceHost string `json:"serviceHost"`

	// BlockStorePath is the path to the bbolt block store file holding
	// every account's repo (default "repo.db").
	BlockStorePath string `json:"blockStorePath"`

	// AdminKey is a shared secret for authenticating management API calls.
	// Clients send it as "Authorization: Bearer <adminKey>".
	AdminKey string `json:"adminKey"`

	// JWTSecret is the HMAC secret session tokens are signed with.
	JWTSecret string `json:"jwtSecret"`

	// PLCEndpoint is the PLC directory URL (e.g., "https://plc.directory").
	// It is parsed but not read by the server: account creation does not
	// call internal/identity.RegisterDID, so no genesis operation is sent
	// to it.
	PLCEndpoint string `json:"plcEndpoint,omitempty"`

	// RelayURL is the relay that com.atproto.sync.requestCrawl forwards
	// to (internal/identity.AnnounceToRelay) whenever that endpoint is
	// called; when empty, https://bsky.network is used. Nothing is
	// announced at startup.
	RelayURL string `json:"relayUrl,omitempty"`
}

// Load reads and parses configuration from the given file path.
// It returns an error if the file cannot be read, parsed, or is missing
// required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":3000"
	}
	if cfg.BlockStorePath == "" {
		cfg.BlockStorePath = "repo.db"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks that all required fields are present.
func (c *Config) validate() error {
	switch {
	case c.DBConn == "":
		return fmt.Errorf("config: dbConn is required")
	case c.DBName == "":
		return fmt.Errorf("config: dbName is required")
	case c.DBUser == "":
		return fmt.Errorf("config: dbUser is required")
	case c.DBPass == "":
		return fmt.Errorf("config: dbPass is required")
	case c.ServiceHost == "":
		return fmt.Errorf("config: serviceHost is required")
	case c.AdminKey == "":
		return fmt.Errorf("config: adminKey is required")
	case c.JWTSecret == "":
		return fmt.Errorf("config: jwtSecret is required")
	}
	return nil
}

// ConnString builds a PostgreSQL connection URI from the config fields.
// The password is URL-encoded to handle special characters safely.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		url.QueryEscape(c.DBUser),
		url.QueryEscape(c.DBPass),
		c.DBConn,
		url.QueryEscape(c.DBName),
	)
}
