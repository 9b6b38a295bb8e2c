package config

import (
	"os"
	"time"
)

// Config holds runtime settings for the GophAuth CLI.
type Config struct {
	ServerEndpointAddr string
	SessionDBPath      string
	RequestTimeout     time.Duration
}

func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.SessionDBPath = "gophauth-session.db"
	c.RequestTimeout = 10 * time.Second
}

// LoadConfig applies defaults, then the JSON file named by -c/-config, then
// flags. Later sources take precedence.
func LoadConfig() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}
