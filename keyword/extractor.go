package keyword

import (
	"sort"
	"strings"
	"unicode"

	"github.com/recallkit/recallkit/core"
)

// DefaultLimit bounds extraction when callers pass a non-positive limit.
const DefaultLimit = 24

// stopwords are high-frequency latin terms that carry no retrieval signal.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"had": true, "has": true, "have": true, "he": true, "her": true,
	"his": true, "i": true, "in": true, "is": true, "it": true, "its": true,
	"me": true, "my": true, "of": true, "on": true, "or": true, "our": true,
	"she": true, "so": true, "that": true, "the": true, "their": true,
	"them": true, "they": true, "this": true, "to": true, "was": true,
	"we": true, "were": true, "what": true, "when": true, "which": true,
	"who": true, "will": true, "with": true, "you": true, "your": true,
}

// Extractor is a pure frequency-based keyword extractor. Latin words are
// lowercased and stopword-filtered; CJK runs are emitted as overlapping
// bigrams so keyword matching works without word segmentation.
type Extractor struct{}

var _ core.KeywordExtractor = (*Extractor)(nil)

// NewExtractor constructs the default extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// Extract returns up to limit keywords weighted by term frequency, ordered
// by weight descending with alphabetical tie-breaking for determinism.
func (e *Extractor) Extract(text string, limit int) []core.Keyword {
	if limit <= 0 {
		limit = DefaultLimit
	}
	counts := make(map[string]float64)
	for _, term := range tokenize(text) {
		counts[term]++
	}
	keywords := make([]core.Keyword, 0, len(counts))
	for word, count := range counts {
		keywords = append(keywords, core.Keyword{Word: word, Weight: count})
	}
	sort.Slice(keywords, func(i, j int) bool {
		if keywords[i].Weight != keywords[j].Weight {
			return keywords[i].Weight > keywords[j].Weight
		}
		return keywords[i].Word < keywords[j].Word
	})
	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}

// tokenize splits text into latin word tokens and CJK bigram tokens.
func tokenize(text string) []string {
	var tokens []string
	var latin []rune
	var cjk []rune

	flushLatin := func() {
		if len(latin) == 0 {
			return
		}
		word := strings.ToLower(string(latin))
		latin = latin[:0]
		if len(word) < 2 || stopwords[word] {
			return
		}
		tokens = append(tokens, word)
	}
	flushCJK := func() {
		switch {
		case len(cjk) == 1:
			tokens = append(tokens, string(cjk))
		case len(cjk) > 1:
			for i := 0; i+1 < len(cjk); i++ {
				tokens = append(tokens, string(cjk[i:i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flushLatin()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			latin = append(latin, r)
		default:
			flushLatin()
			flushCJK()
		}
	}
	flushLatin()
	flushCJK()
	return tokens
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
