package narration

import (
	"regexp"
)

// Emphasis markers wrap **bold** and *italic* spans. They are ANSI bold on/off so
// the terminal renders them directly and wordwrap treats them as zero width.
const (
	EmphasisOpen  = "\x1b[1m"
	EmphasisClose = "\x1b[22m"
)

// ParagraphBreak is inserted after every sentence or clause terminator.
const ParagraphBreak = "\n\n"

var (
	strongRe = regexp.MustCompile(`\*\*(.+?)\*\*`)
	emRe     = regexp.MustCompile(`\*(.+?)\*`)
	// A run of terminators counts once, so "..." and "?!" each get a single break.
	breakRe = regexp.MustCompile(`([.!?:;…]+)\s*`)
)

// Format renders narration source text for display. It is idempotent:
// Format(Format(s)) == Format(s).
func Format(text string) string {
	out := strongRe.ReplaceAllString(text, EmphasisOpen+"$1"+EmphasisClose)
	out = emRe.ReplaceAllString(out, EmphasisOpen+"$1"+EmphasisClose)
	return breakRe.ReplaceAllString(out, "${1}"+ParagraphBreak)
}

// Formatter runs text transforms (such as the content filter) before Format.
type Formatter struct {
	transforms []func(string) string
}

func NewFormatter(transforms ...func(string) string) *Formatter {
	return &Formatter{transforms: transforms}
}

func (f *Formatter) Format(text string) string {
	if f == nil {
		return Format(text)
	}
	for _, t := range f.transforms {
		text = t(text)
	}
	return Format(text)
}
