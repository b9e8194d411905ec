// Package admincli implements the administrative command-line tool. It
// talks to the server's admin endpoints over HTTP and never touches the
// catalog directly.
package admincli

import (
	"flag"
	"os"

	"github.com/datasite/connector/internal/flagx"
)

// Config holds runtime settings for the admin CLI.
//
// Fields:
//   - ServerURL: base URL of the connector server (e.g., "http://127.0.0.1:8080").
type Config struct {
	ServerURL string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFlags(cfg)
	return cfg
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-e string   server base URL
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-e"})

	fs := flag.NewFlagSet("admincli", flag.ContinueOnError)
	fs.StringVar(&config.ServerURL, "e", config.ServerURL, "server base URL")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
