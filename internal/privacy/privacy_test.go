package privacy

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/datasite/connector/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleContent() Content {
	return Content{
		Name:        "essay",
		ContentType: "text/plain",
		Description: "Notes on ancient alphabets",
		Tags:        []string{"linguistics"},
		Plaintext:   []byte("The Phoenician alphabet spread west.\n\nGreek adapted it, adding vowels."),
	}
}

func TestParseSummaryKind(t *testing.T) {
	tests := []struct {
		input   string
		want    SummaryKind
		wantErr bool
	}{
		{"statistical", SummaryStatistical, false},
		{"structural", SummaryStructural, false},
		{"semantic", SummarySemantic, false},
		{"full", "", true},
		{"", "", true},
	}

	for _, tc := range tests {
		got, err := ParseSummaryKind(tc.input)
		if tc.wantErr {
			require.ErrorIs(t, err, common.ErrBadRequest, "input %q", tc.input)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}

func TestAddNoise_Disabled(t *testing.T) {
	e := NewEngine(false, 1.0, 10.0)
	if got := e.AddNoise(42, 1.0); got != 42 {
		t.Fatalf("disabled engine must pass values through, got %v", got)
	}
}

func TestAddNoise_NonDeterministic(t *testing.T) {
	e := NewEngine(true, 1.0, 10.0)

	seen := make(map[float64]bool)
	for range 10 {
		seen[e.AddNoise(100, 0.5)] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected varying noisy values, got %v", seen)
	}
}

func TestAddNoise_EpsilonScaling(t *testing.T) {
	e := NewEngine(true, 1.0, 10.0)

	spread := func(epsilon float64) float64 {
		var total float64
		for range 500 {
			d := e.AddNoise(0, epsilon) // noise around zero
			if d < 0 {
				d = -d
			}
			total += d
		}
		return total / 500
	}

	// Mean absolute Laplace deviation equals the scale 1/epsilon, so a
	// larger epsilon must produce a visibly tighter spread on average.
	if spread(10.0) >= spread(0.1) {
		t.Fatalf("expected less noise for larger epsilon")
	}
}

func TestCharge_BudgetExhaustion(t *testing.T) {
	e := NewEngine(true, 1.0, 2.5)

	require.NoError(t, e.Charge("alice@example.com", 1.0))
	require.NoError(t, e.Charge("alice@example.com", 1.0))

	err := e.Charge("alice@example.com", 1.0)
	require.ErrorIs(t, err, common.ErrPrivacyBudgetExceeded)

	// Other subjects are unaffected.
	require.NoError(t, e.Charge("bob@example.com", 1.0))
	assert.InDelta(t, 0.5, e.Remaining("alice@example.com"), 1e-9)
}

func TestSummarize_Statistical(t *testing.T) {
	e := NewEngine(true, 1.0, 100.0)

	s1, err := e.Summarize("alice", sampleContent(), SummaryStatistical, 0.5)
	require.NoError(t, err)
	s2, err := e.Summarize("alice", sampleContent(), SummaryStatistical, 0.5)
	require.NoError(t, err)

	assert.NotContains(t, s1.Text, "Phoenician", "statistical summary must not leak text")
	assert.NotEqual(t, s1.Text, s2.Text, "noise must vary across calls")
}

func TestSummarize_StructuralNeverRevealsText(t *testing.T) {
	e := NewEngine(true, 1.0, 100.0)

	s, err := e.Summarize("alice", sampleContent(), SummaryStructural, 1.0)
	require.NoError(t, err)

	assert.NotContains(t, s.Text, "Phoenician")
	assert.Contains(t, s.Text, "2 sections")
}

func TestSummarize_SemanticBounded(t *testing.T) {
	e := NewEngine(true, 1.0, 100.0)

	content := sampleContent()
	content.Plaintext = []byte(strings.Repeat("long raw content ", 100))

	s, err := e.Summarize("alice", content, SummarySemantic, 1.0)
	require.NoError(t, err)

	assert.Less(t, len(s.Text), len(content.Plaintext), "semantic summary must be bounded")
	assert.NotEqual(t, string(content.Plaintext), s.Text)
}

func TestSummarize_SemanticExcerptKeepsRunesWhole(t *testing.T) {
	e := NewEngine(true, 1.0, 100.0)

	// A leading ASCII byte keeps the 3-byte runes off the excerpt cutoff,
	// so cutting on the raw byte count would split one in half.
	content := sampleContent()
	content.Plaintext = []byte("x" + strings.Repeat("語", 100))

	s, err := e.Summarize("alice", content, SummarySemantic, 1.0)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(s.Text))
}

func TestSummarize_DefaultEpsilon(t *testing.T) {
	e := NewEngine(true, 2.0, 100.0)

	s, err := e.Summarize("alice", sampleContent(), SummaryStructural, 0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, s.Epsilon)
	assert.InDelta(t, 98.0, e.Remaining("alice"), 1e-9)
}

func TestSummarize_ExceededBudgetFailsBeforeDisclosure(t *testing.T) {
	e := NewEngine(true, 1.0, 1.5)

	_, err := e.Summarize("alice", sampleContent(), SummarySemantic, 1.0)
	require.NoError(t, err)

	_, err = e.Summarize("alice", sampleContent(), SummarySemantic, 1.0)
	require.ErrorIs(t, err, common.ErrPrivacyBudgetExceeded)
}
