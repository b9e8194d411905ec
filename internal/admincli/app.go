package admincli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/datasite/connector/internal/common"
	"github.com/datasite/connector/internal/server/access"
)

type App struct {
	config *Config
	client *Client
	reader *bufio.Reader
	out    io.Writer
}

func NewApp(c *Config) *App {
	return &App{
		config: c,
		client: NewClient(c.ServerURL),
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}
}

const usage = `Usage: cli [-e server-url] <command> [args]

Commands:
  list                 list catalog entries
  ingest <file>        encrypt and store a file
  remove <name>        remove an entry
  issue                issue an access token (interactive)
  revoke <token-id>    revoke an access token
  audit [limit]        print recent audit entries
  inspect              verify a signed token and print its claims
`

// Run dispatches the subcommand in args (os.Args with flags stripped).
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.out, usage)
		return nil
	}

	switch args[0] {
	case "list":
		return a.runList(ctx)
	case "ingest":
		if len(args) < 2 {
			return fmt.Errorf("ingest: file argument required")
		}
		return a.runIngest(ctx, args[1])
	case "remove":
		if len(args) < 2 {
			return fmt.Errorf("remove: name argument required")
		}
		return a.client.Remove(ctx, args[1])
	case "issue":
		return a.runIssue(ctx)
	case "revoke":
		if len(args) < 2 {
			return fmt.Errorf("revoke: token-id argument required")
		}
		return a.client.RevokeToken(ctx, args[1])
	case "audit":
		limit := 20
		if len(args) > 1 {
			parsed, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("audit: invalid limit %q", args[1])
			}
			limit = parsed
		}
		return a.runAudit(ctx, limit)
	case "inspect":
		return a.runInspect()
	default:
		fmt.Fprint(a.out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (a *App) runList(ctx context.Context) error {
	metas, err := a.client.List(ctx)
	if err != nil {
		return err
	}
	for _, m := range metas {
		flagged := ""
		if m.Flagged {
			flagged = " [FLAGGED]"
		}
		fmt.Fprintf(a.out, "%s  %s  %d bytes  tags=%s%s\n",
			m.Name, m.ContentType, m.Size, strings.Join(m.Tags, ","), flagged)
	}
	return nil
}

func (a *App) runIngest(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	name, err := GetSimpleText(a.reader, "Entry name", a.out)
	if err != nil {
		return err
	}
	contentType, err := GetSimpleText(a.reader, "Content type (e.g. text/plain)", a.out)
	if err != nil {
		return err
	}
	description, err := GetSimpleText(a.reader, "Description", a.out)
	if err != nil {
		return err
	}
	tags, err := GetCommaList(a.reader, "Tags (comma separated)", a.out)
	if err != nil {
		return err
	}

	id, err := a.client.Ingest(ctx, name, content, contentType, description, tags)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "stored %s (%s)\n", name, id)
	return nil
}

func (a *App) runIssue(ctx context.Context) error {
	subject, err := GetSimpleText(a.reader, "Subject", a.out)
	if err != nil {
		return err
	}
	datasets, err := GetCommaList(a.reader, "Datasets (comma separated, empty for all)", a.out)
	if err != nil {
		return err
	}
	permissions, err := GetCommaList(a.reader, "Permissions (read,search,summarize)", a.out)
	if err != nil {
		return err
	}
	ttlText, err := GetSimpleText(a.reader, "Validity in minutes (empty for default)", a.out)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if ttlText != "" {
		minutes, err := strconv.Atoi(ttlText)
		if err != nil {
			return fmt.Errorf("invalid validity %q", ttlText)
		}
		ttl = time.Duration(minutes) * time.Minute
	}

	result, err := a.client.IssueToken(ctx, subject, datasets, permissions, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "token id: %s\nexpires:  %s\ntoken:    %s\n",
		result.TokenID, result.ExpiresAt.Format(time.RFC3339), result.Token)
	return nil
}

func (a *App) runAudit(ctx context.Context, limit int) error {
	entries, err := a.client.Audit(ctx, limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(a.out, "%s  %s  %s  %s  %s  %s\n",
			e.Time.Format(time.RFC3339), e.Subject, e.Action, e.Dataset, e.Outcome, e.Reason)
	}
	return nil
}

// runInspect verifies a pasted token against a locally entered signing
// secret and prints the claims. The secret never leaves the terminal.
func (a *App) runInspect() error {
	tokenString, err := GetSimpleText(a.reader, "Signed token", a.out)
	if err != nil {
		return err
	}
	secret, err := GetSecret("Signing secret", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)

	claims := &access.Claims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return fmt.Errorf("token verification failed: %w", err)
	}

	expires := "never"
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Format(time.RFC3339)
	}
	fmt.Fprintf(a.out, "token id:    %s\nsubject:     %s\ndatasets:    %s\npermissions: %s\nexpires:     %s\n",
		claims.ID, claims.Subject, strings.Join(claims.Datasets, ","),
		strings.Join(claims.Permissions, ","), expires)
	return nil
}

// PositionalArgs strips the flags parseFlags understands and returns what
// remains, in order.
func PositionalArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "-e" {
			i++ // skip the flag value
			continue
		}
		if strings.HasPrefix(arg, "-e=") {
			continue
		}
		out = append(out, arg)
	}
	return out
}
