package config

import (
	"flag"
	"os"
	"time"

	"github.com/datasite/connector/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   SQLite catalog path
//	-k string   content encryption key path
//	-s string   token signing secret key
//	-t int      token validity, minutes
//	-l int      rate limit, max requests per window (0 disables)
//	-w int      rate limit window, seconds
//	-p bool     enable differential privacy for summaries
//	-e float    default epsilon per summary request
//	-b float    total per-subject privacy budget
//	-r int      audit retention, days
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers and converted to time.Duration
//     values using the unit noted above.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-k", "-s", "-t", "-l", "-w", "-p", "-e", "-b", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabasePath, "d", config.DatabasePath, "catalog database path")
	fs.StringVar(&config.KeyPath, "k", config.KeyPath, "content encryption key path")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	tokenValidity := fs.Int("t", int(config.TokenValidityDuration.Minutes()), "token_validity_duration (in minutes)")
	fs.IntVar(&config.RateLimitMaxRequests, "l", config.RateLimitMaxRequests, "max requests per rate limit window")
	rateLimitWindow := fs.Int("w", int(config.RateLimitWindow.Seconds()), "rate_limit_window (in seconds)")

	fs.BoolVar(&config.PrivacyEnabled, "p", config.PrivacyEnabled, "enable differential privacy")
	fs.Float64Var(&config.PrivacyDefaultEpsilon, "e", config.PrivacyDefaultEpsilon, "default epsilon")
	fs.Float64Var(&config.PrivacyTotalBudget, "b", config.PrivacyTotalBudget, "total privacy budget per subject")

	auditRetention := fs.Int("r", int(config.AuditRetention.Hours()/24), "audit_retention (in days)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenValidityDuration = time.Duration(*tokenValidity) * time.Minute
	config.RateLimitWindow = time.Duration(*rateLimitWindow) * time.Second
	config.AuditRetention = time.Duration(*auditRetention) * 24 * time.Hour
}
