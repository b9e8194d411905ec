// Package dispatcher is the boundary the transport layer calls into: it
// authenticates the caller through the access control system, authorizes
// the requested action, and only then touches the content vault. Every
// operation completes synchronously; there is no partial state to roll
// back when a caller abandons a request.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/datasite/connector/internal/common"
	"github.com/datasite/connector/internal/logging"
	"github.com/datasite/connector/internal/privacy"
	"github.com/datasite/connector/internal/server/access"
	"github.com/datasite/connector/internal/server/models"
	"github.com/datasite/connector/internal/server/vault"
)

// ContentFormat selects what get_content returns. Unknown values are
// rejected at this boundary rather than silently defaulted.
type ContentFormat string

const (
	FormatRaw      ContentFormat = "raw"
	FormatSummary  ContentFormat = "summary"
	FormatMetadata ContentFormat = "metadata"
)

// ParseContentFormat validates a caller-supplied format string.
func ParseContentFormat(s string) (ContentFormat, error) {
	switch ContentFormat(s) {
	case FormatRaw, FormatSummary, FormatMetadata:
		return ContentFormat(s), nil
	case "":
		return FormatRaw, nil
	default:
		return "", fmt.Errorf("%w: unknown content format %q", common.ErrBadRequest, s)
	}
}

// ContentResponse is the result of get_content. Exactly one of Raw,
// Summary, or Meta is populated depending on the requested format.
type ContentResponse struct {
	Name    string              `json:"name"`
	Format  ContentFormat       `json:"format"`
	Raw     []byte              `json:"raw,omitempty"`
	Summary *privacy.Summary    `json:"summary,omitempty"`
	Meta    *models.ContentMeta `json:"metadata,omitempty"`
}

// Service wires access control in front of the vault for every tool call.
type Service struct {
	vault  *vault.Vault
	access *access.Service
	logger logging.Logger
}

// New builds the dispatcher boundary.
func New(v *vault.Vault, a *access.Service, logger logging.Logger) *Service {
	return &Service{
		vault:  v,
		access: a,
		logger: logger.With("module", "dispatcher"),
	}
}

// ListDatasets returns metadata for items visible to the token, filtered
// by optional tags and content type. Items outside the token's scope are
// omitted entirely, so their existence is never confirmed.
func (s *Service) ListDatasets(ctx context.Context, tokenString string, tagsFilter []string, typeFilter string) ([]models.ContentMeta, error) {
	token, err := s.access.ValidateToken(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, token, "*", models.PermissionSearch); err != nil {
		return nil, err
	}

	metas, err := s.vault.List(ctx, tagsFilter, typeFilter)
	if err != nil {
		return nil, err
	}

	visible := metas[:0]
	for _, m := range metas {
		if token.InScope(m.Name) {
			visible = append(visible, m)
		}
	}
	return visible, nil
}

// GetContent returns the named dataset in the requested format: raw
// plaintext, a privacy-bounded summary, or metadata only.
func (s *Service) GetContent(ctx context.Context, tokenString, datasetName string, format ContentFormat) (*ContentResponse, error) {
	token, err := s.access.ValidateToken(ctx, tokenString)
	if err != nil {
		return nil, err
	}

	// All get_content formats gate on read; the dedicated summarize
	// permission belongs to get_content_summary.
	if err := s.access.Authorize(ctx, token, datasetName, models.PermissionRead); err != nil {
		return nil, err
	}

	switch format {
	case FormatRaw:
		raw, _, err := s.vault.Get(ctx, datasetName)
		if err != nil {
			return nil, err
		}
		return &ContentResponse{Name: datasetName, Format: format, Raw: raw}, nil

	case FormatSummary:
		summary, err := s.vault.Summarize(ctx, token.Subject, datasetName, privacy.SummarySemantic, 0)
		if err != nil {
			return nil, err
		}
		return &ContentResponse{Name: datasetName, Format: format, Summary: summary}, nil

	case FormatMetadata:
		metas, err := s.vault.List(ctx, nil, "")
		if err != nil {
			return nil, err
		}
		for i := range metas {
			if metas[i].Name == datasetName {
				return &ContentResponse{Name: datasetName, Format: format, Meta: &metas[i]}, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, datasetName)

	default:
		return nil, fmt.Errorf("%w: unknown content format %q", common.ErrBadRequest, format)
	}
}

// SearchContent runs a ranked query over the index, keeping only results
// within the token's scope.
func (s *Service) SearchContent(ctx context.Context, tokenString, query string, maxResults int) ([]models.SearchResult, error) {
	token, err := s.access.ValidateToken(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, token, "*", models.PermissionSearch); err != nil {
		return nil, err
	}

	results, err := s.vault.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}

	visible := results[:0]
	for _, r := range results {
		if token.InScope(r.Name) {
			visible = append(visible, r)
		}
	}
	return visible, nil
}

// GetContentSummary produces a summary of the requested kind, spending
// epsilon from the subject's privacy budget. epsilon of 0 uses the
// configured default.
func (s *Service) GetContentSummary(ctx context.Context, tokenString, datasetName string, kind privacy.SummaryKind, epsilon float64) (*privacy.Summary, error) {
	token, err := s.access.ValidateToken(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, token, datasetName, models.PermissionSummarize); err != nil {
		return nil, err
	}

	return s.vault.Summarize(ctx, token.Subject, datasetName, kind, epsilon)
}
