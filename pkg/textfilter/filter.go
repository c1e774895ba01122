package textfilter

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// replacements maps words to family-friendly alternatives for narration shown
// under a restricted content rating.
var replacements = map[string]string{
	"fuck":         "fudge",
	"motherfucker": "mother-trucker",
	"shit":         "shoot",
	"bullshit":     "baloney",
	"damn":         "dang",
	"goddamn":      "gosh-dang",
	"hell":         "heck",
	"ass":          "butt",
	"asshole":      "jerk",
	"bastard":      "jerk",
	"bitch":        "jerk",
	"crap":         "crud",
	"piss":         "ticked",
	"dick":         "jerk",
	"prick":        "jerk",
	"whore":        "[censored]",
	"slut":         "[censored]",
}

type rule struct {
	re          *regexp.Regexp
	replacement string
}

// Filter rewrites profanity in narration. A nil *Filter passes text through.
type Filter struct {
	rules []rule
}

// New builds a filter. Longer words are matched first so compounds win over
// the words they contain.
func New() *Filter {
	words := make([]string, 0, len(replacements))
	for w := range replacements {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if len(words[i]) != len(words[j]) {
			return len(words[i]) > len(words[j])
		}
		return words[i] < words[j]
	})

	f := &Filter{rules: make([]rule, 0, len(words))}
	for _, w := range words {
		// optional plural "s", whole words only
		f.rules = append(f.rules, rule{
			re:          regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `(s?)\b`),
			replacement: replacements[w],
		})
	}
	return f
}

// ForRating returns a filter for ratings at or below PG-13, or nil otherwise.
func ForRating(rating string) *Filter {
	if !ShouldFilterContent(rating) {
		return nil
	}
	return New()
}

// Apply replaces profanity, keeping the case pattern and plural suffix of each match.
func (f *Filter) Apply(text string) string {
	if f == nil || text == "" {
		return text
	}
	for _, r := range f.rules {
		text = r.re.ReplaceAllStringFunc(text, func(match string) string {
			word, suffix := match, ""
			if sub := r.re.FindStringSubmatch(match); len(sub) == 2 && sub[1] != "" {
				word, suffix = match[:len(match)-len(sub[1])], sub[1]
			}
			return preserveCase(word, r.replacement) + suffix
		})
	}
	return text
}

// Contains reports whether text has anything Apply would replace.
func (f *Filter) Contains(text string) bool {
	if f == nil {
		return false
	}
	for _, r := range f.rules {
		if r.re.MatchString(text) {
			return true
		}
	}
	return false
}

// ShouldFilterContent reports whether a content rating calls for filtering.
func ShouldFilterContent(rating string) bool {
	switch strings.ToUpper(strings.TrimSpace(rating)) {
	case "G", "PG", "PG13", "PG-13":
		return true
	default:
		return false
	}
}

func preserveCase(original, replacement string) string {
	switch {
	case original == "":
		return replacement
	case strings.ToUpper(original) == original:
		return strings.ToUpper(replacement)
	case strings.ToLower(original) == original:
		return strings.ToLower(replacement)
	}

	titleCaser := cases.Title(language.English)
	if titleCaser.String(strings.ToLower(original)) == original {
		return titleCaser.String(replacement)
	}

	// mixed case: copy the pattern rune by rune, lowercase past the end
	orig := []rune(original)
	out := []rune(replacement)
	for i, r := range out {
		if i < len(orig) && unicode.IsUpper(orig[i]) {
			out[i] = unicode.ToUpper(r)
		} else {
			out[i] = unicode.ToLower(r)
		}
	}
	return string(out)
}
