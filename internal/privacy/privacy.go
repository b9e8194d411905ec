// Package privacy implements the privacy engine: Laplace-calibrated noise
// for disclosed statistics, redacted summaries of content items, and
// per-subject epsilon budget accounting.
package privacy

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/datasite/connector/internal/common"
)

// SummaryKind selects the disclosure level of a summary. Unknown values are
// rejected at the boundary by ParseSummaryKind.
type SummaryKind string

const (
	SummaryStatistical SummaryKind = "statistical"
	SummaryStructural  SummaryKind = "structural"
	SummarySemantic    SummaryKind = "semantic"
)

// ParseSummaryKind validates a caller-supplied summary kind string.
func ParseSummaryKind(s string) (SummaryKind, error) {
	switch SummaryKind(s) {
	case SummaryStatistical, SummaryStructural, SummarySemantic:
		return SummaryKind(s), nil
	default:
		return "", fmt.Errorf("%w: unknown summary kind %q", common.ErrBadRequest, s)
	}
}

// semanticExcerptLimit bounds the plaintext exposed by a semantic summary.
const semanticExcerptLimit = 200

// Content is the decrypted view of an item the engine summarizes. The
// engine never retains Plaintext beyond a single call.
type Content struct {
	Name        string
	ContentType string
	Description string
	Tags        []string
	Plaintext   []byte
}

// Summary is the privacy-bounded result returned to callers.
type Summary struct {
	Kind    SummaryKind `json:"kind"`
	Text    string      `json:"text"`
	Epsilon float64     `json:"epsilon"`
}

// Engine applies calibrated noise and tracks per-subject epsilon spend.
// When differential privacy is disabled the engine passes values through
// unchanged and charges no budget.
type Engine struct {
	enabled        bool
	defaultEpsilon float64
	totalBudget    float64

	mu    sync.Mutex
	spent map[string]float64
}

// NewEngine builds an engine. totalBudget is the cumulative epsilon a
// single subject may consume before further summaries are refused.
func NewEngine(enabled bool, defaultEpsilon, totalBudget float64) *Engine {
	return &Engine{
		enabled:        enabled,
		defaultEpsilon: defaultEpsilon,
		totalBudget:    totalBudget,
		spent:          make(map[string]float64),
	}
}

// DefaultEpsilon returns the configured default epsilon, used when a caller
// does not supply one.
func (e *Engine) DefaultEpsilon() float64 {
	return e.defaultEpsilon
}

// AddNoise perturbs value with Laplace noise of scale 1/epsilon. Larger
// epsilon means less noise. The result depends only on the inputs and
// fresh randomness.
func (e *Engine) AddNoise(value float64, epsilon float64) float64 {
	if !e.enabled || epsilon <= 0 {
		return value
	}
	return value + laplace(1/epsilon)
}

// laplace samples from the Laplace distribution with the given scale via
// inverse transform sampling.
func laplace(scale float64) float64 {
	u := rand.Float64() - 0.5
	return -scale * sign(u) * math.Log(1-2*math.Abs(u))
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// Charge records epsilon consumption for subject, failing with
// common.ErrPrivacyBudgetExceeded before the configured total would be
// exceeded. Accounting is per subject: all tokens issued to one identity
// share the same budget.
func (e *Engine) Charge(subject string, epsilon float64) error {
	if !e.enabled {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.spent[subject]+epsilon > e.totalBudget {
		return fmt.Errorf("%w: subject %s spent %.2f of %.2f",
			common.ErrPrivacyBudgetExceeded, subject, e.spent[subject], e.totalBudget)
	}
	e.spent[subject] += epsilon
	return nil
}

// Remaining reports the unspent budget for subject.
func (e *Engine) Remaining(subject string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalBudget - e.spent[subject]
}

// Summarize produces a privacy-bounded summary of content on behalf of
// subject, charging epsilon against the subject's budget first. Statistical
// and structural summaries never contain raw text; semantic summaries expose
// at most a bounded-length excerpt.
func (e *Engine) Summarize(subject string, content Content, kind SummaryKind, epsilon float64) (*Summary, error) {
	if epsilon <= 0 {
		epsilon = e.defaultEpsilon
	}

	if err := e.Charge(subject, epsilon); err != nil {
		return nil, err
	}

	var text string
	switch kind {
	case SummaryStatistical:
		text = e.statisticalSummary(content, epsilon)
	case SummaryStructural:
		text = structuralSummary(content)
	case SummarySemantic:
		text = semanticSummary(content)
	default:
		return nil, fmt.Errorf("%w: unknown summary kind %q", common.ErrBadRequest, kind)
	}

	return &Summary{Kind: kind, Text: text, Epsilon: epsilon}, nil
}

func (e *Engine) statisticalSummary(content Content, epsilon float64) string {
	text := string(content.Plaintext)

	size := e.AddNoise(float64(len(content.Plaintext)), epsilon)
	words := e.AddNoise(float64(len(strings.Fields(text))), epsilon)
	lines := e.AddNoise(float64(countLines(text)), epsilon)

	return fmt.Sprintf(
		"Statistical summary of %q (%s): approx. %d bytes, %d words, %d lines.",
		content.Name, content.ContentType,
		clampCount(size), clampCount(words), clampCount(lines))
}

func structuralSummary(content Content) string {
	text := string(content.Plaintext)

	lines := countLines(text)
	sections := countSections(text)

	shape := "text document"
	switch {
	case strings.Contains(content.ContentType, "json"):
		shape = "JSON structure"
	case strings.Contains(content.ContentType, "csv"):
		shape = "tabular data"
	case strings.Contains(content.ContentType, "xml"):
		shape = "XML structure"
	}

	return fmt.Sprintf(
		"Structural summary of %q: %s with %d lines in %d sections, tagged %v.",
		content.Name, shape, lines, sections, content.Tags)
}

func semanticSummary(content Content) string {
	excerpt := strings.TrimSpace(string(content.Plaintext))
	excerpt = strings.Join(strings.Fields(excerpt), " ")
	if len(excerpt) > semanticExcerptLimit {
		// Back off to a rune boundary so the cut never emits invalid UTF-8.
		limit := semanticExcerptLimit
		for limit > 0 && !utf8.RuneStart(excerpt[limit]) {
			limit--
		}
		excerpt = excerpt[:limit] + "..."
	}

	return fmt.Sprintf("Semantic summary of %q: %s [excerpt] %s",
		content.Name, content.Description, excerpt)
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}

// countSections treats blank-line separated blocks as sections.
func countSections(text string) int {
	n := 0
	for _, block := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(block) != "" {
			n++
		}
	}
	return n
}

// clampCount rounds a noisy statistic to a non-negative integer so callers
// never see negative counts.
func clampCount(v float64) int {
	if v < 0 {
		return 0
	}
	return int(math.Round(v))
}
