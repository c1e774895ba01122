package textfilter

import (
	"testing"

	"github.com/jwebster45206/story-console/pkg/narration"
	"github.com/stretchr/testify/assert"
)

func TestFilter_Apply(t *testing.T) {
	filter := New()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple replacement",
			input:    "What the hell is that noise?",
			expected: "What the heck is that noise?",
		},
		{
			name:     "case preservation - uppercase",
			input:    "DAMN, the bridge is out!",
			expected: "DANG, the bridge is out!",
		},
		{
			name:     "case preservation - title case",
			input:    "Hell awaits below.",
			expected: "Heck awaits below.",
		},
		{
			name:     "mixed case",
			input:    "HeLl yeah, DaMn right",
			expected: "HeCk yeah, DaNg right",
		},
		{
			name:     "plural keeps suffix",
			input:    "The bastards and assholes fled.",
			expected: "The jerks and jerks fled.",
		},
		{
			name:     "compound wins over contained word",
			input:    "goddamn pirates.",
			expected: "gosh-dang pirates.",
		},
		{
			name:     "word boundaries",
			input:    "A classical piece, a long process, a hello.",
			expected: "A classical piece, a long process, a hello.",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, filter.Apply(tt.input))
		})
	}
}

func TestFilter_Contains(t *testing.T) {
	filter := New()
	assert.True(t, filter.Contains("What the hell"))
	assert.True(t, filter.Contains("HELLS bells"))
	assert.False(t, filter.Contains("A clean sentence about classical music"))

	filtered := filter.Apply("damn crap everywhere")
	assert.False(t, filter.Contains(filtered))
}

func TestForRating(t *testing.T) {
	tests := []struct {
		rating string
		want   bool
	}{
		{"G", true},
		{"PG", true},
		{"pg", true},
		{" PG13 ", true},
		{"PG-13", true},
		{"R", false},
		{"NC-17", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.rating, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldFilterContent(tt.rating))
			assert.Equal(t, tt.want, ForRating(tt.rating) != nil)
		})
	}
}

func TestFilter_NilPassesThrough(t *testing.T) {
	var f *Filter
	assert.Equal(t, "damn", f.Apply("damn"))
	assert.False(t, f.Contains("damn"))
}

func TestFilter_AsNarrationTransform(t *testing.T) {
	formatter := narration.NewFormatter(New().Apply)
	assert.Equal(t, "Dang.\n\nRun!\n\n", formatter.Format("Damn. Run!"))
}
