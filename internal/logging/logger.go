// Package logging defines the structured logger shared by the server and
// the admin CLI. The concrete implementation wraps log/slog; the interface
// keeps packages like vault and access decoupled from it.
package logging

import "context"

// Logger is a context-aware, structured logger.
//
// The variadic args are alternating key/value pairs, e.g.:
//
//	log.Info(ctx, "content ingested", "name", name, "size", len(raw))
type Logger interface {
	// Info logs routine operational events.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs unusual but non-fatal conditions, such as a content item
	// failing its integrity check during load.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key/value
	// pairs. Components tag themselves once, e.g. With("module", "vault").
	With(args ...any) Logger
}
