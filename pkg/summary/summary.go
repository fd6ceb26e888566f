package summary

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"
)

// FallbackQuestion is used when a stage output holds no question/answer
// lines at all.
const FallbackQuestion = "Full stage output"

// fallbackLimit caps the fallback answer, in runes.
const fallbackLimit = 1000

var (
	reQuestion = regexp.MustCompile(`^(?i)q\s*\d*\s*[:.)]\s*(.*)$`)
	reAnswer   = regexp.MustCompile(`^(?i)a\s*\d*\s*[:.)]\s*(.*)$`)
)

// Pair is one question with its answer and the graph entities the answer
// talks about.
type Pair struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Entities []string `json:"entities,omitempty"`
}

// ParseQA reads "Q1: ..." / "A1: ..." lines. A question without a directly
// following answer gets an empty answer. When no question is found the whole
// text becomes a single FallbackQuestion pair, truncated to 1000 runes.
func ParseQA(text string) []Pair {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	var pairs []Pair
	for i := 0; i < len(lines); i++ {
		q := reQuestion.FindStringSubmatch(lines[i])
		if q == nil {
			continue
		}
		p := Pair{Question: strings.TrimSpace(q[1])}
		if i+1 < len(lines) {
			if a := reAnswer.FindStringSubmatch(lines[i+1]); a != nil {
				p.Answer = strings.TrimSpace(a[1])
				i++
			}
		}
		pairs = append(pairs, p)
	}

	if len(pairs) == 0 {
		pairs = append(pairs, Pair{Question: FallbackQuestion, Answer: truncate(text, fallbackLimit)})
	}
	return pairs
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}

// Ground attaches to every pair the labels of the given entities that its
// question or answer mentions, ignoring case and whitespace runs. Entities are
// usually the ones a stage introduced.
func Ground(pairs []Pair, entities []common.Entity) []Pair {
	out := make([]Pair, len(pairs))
	for i, p := range pairs {
		text := common.NormalizeLabel(p.Question + " " + p.Answer)
		p.Entities = nil
		for _, e := range entities {
			label := common.NormalizeLabel(e.Label)
			if label != "" && strings.Contains(text, label) {
				p.Entities = append(p.Entities, e.Label)
			}
		}
		out[i] = p
	}
	return out
}
