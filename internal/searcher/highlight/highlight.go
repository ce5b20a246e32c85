// Package highlight extracts short, marked-up excerpts of a document's
// stored content around the terms a query matched.
package highlight

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/normalizer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
)

// NoSnippet is returned when none of the query's content terms can be
// located in the stored text.
const NoSnippet = "[No relevant snippet found]"

const ellipsis = "..."

// Formatter marks up one matched token.
type Formatter func(token string) string

// Brackets wraps a matched token in square brackets.
func Brackets(token string) string { return "[" + token + "]" }

type Options struct {
	MaxChars     int
	Surround     int
	MaxFragments int
	Formatter    Formatter
}

func DefaultOptions() Options {
	return Options{MaxChars: 150, Surround: 40, MaxFragments: 1, Formatter: Brackets}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxChars <= 0 {
		o.MaxChars = d.MaxChars
	}
	if o.Surround < 0 {
		o.Surround = 0
	}
	if o.MaxFragments <= 0 {
		o.MaxFragments = d.MaxFragments
	}
	if o.Formatter == nil {
		o.Formatter = d.Formatter
	}
	return o
}

// Highlighter re-normalizes stored content with the same pipeline used at
// index time so that stemmed matches map back to their source tokens.
type Highlighter struct {
	norm *normalizer.Normalizer
	opts Options
}

func New(n *normalizer.Normalizer, opts Options) *Highlighter {
	if n == nil {
		n = normalizer.Default()
	}
	return &Highlighter{norm: n, opts: opts.withDefaults()}
}

func (h *Highlighter) Options() Options { return h.opts }

// Highlight returns up to MaxFragments excerpts of doc in document order.
func (h *Highlighter) Highlight(doc *index.Document, tree parser.Node) []string {
	if doc == nil {
		return []string{NoSnippet}
	}
	return h.Text(doc.Content, tree)
}

func (h *Highlighter) Text(content string, tree parser.Node) []string {
	wanted := contentTerms(tree)
	if len(wanted) == 0 || content == "" {
		return []string{NoSnippet}
	}

	src := newRuneText(content)
	var matches []span
	for _, t := range h.norm.Normalize(content) {
		if _, ok := wanted[t.Text]; ok {
			matches = append(matches, span{
				start: src.runeAt(t.Start),
				end:   src.runeAt(t.End),
				term:  t.Text,
			})
		}
	}
	if len(matches) == 0 {
		return []string{NoSnippet}
	}

	windows := pickWindows(matches, h.opts.MaxChars, h.opts.MaxFragments)
	fragments := make([]string, 0, len(windows))
	for _, w := range windows {
		if f := h.render(src, matches, w); f != "" {
			fragments = append(fragments, f)
		}
	}
	if len(fragments) == 0 {
		return []string{NoSnippet}
	}
	return fragments
}

// Highlight is a convenience wrapper around a Highlighter built from the
// default normalizer.
func Highlight(doc *index.Document, tree parser.Node, opts Options) []string {
	return New(nil, opts).Highlight(doc, tree)
}

func contentTerms(tree parser.Node) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, leaf := range parser.Leaves(tree, index.FieldContent) {
		if leaf.Field == index.FieldContent {
			terms[leaf.Term] = struct{}{}
		}
	}
	return terms
}

// span is a matched token in rune offsets.
type span struct {
	start, end int
	term       string
}

// window covers matches[first..last].
type window struct {
	first, last int
	distinct    int
	count       int
	start, end  int
}

func (w window) better(o window) bool {
	if w.distinct != o.distinct {
		return w.distinct > o.distinct
	}
	if w.count != o.count {
		return w.count > o.count
	}
	return w.start < o.start
}

func (w window) overlaps(o window) bool {
	return w.start < o.end && o.start < w.end
}

// pickWindows slides a maxChars window over the matches, ranks every
// candidate by distinct terms then match count, and keeps the best
// non-overlapping ones in document order.
func pickWindows(matches []span, maxChars, maxFragments int) []window {
	candidates := make([]window, 0, len(matches))
	counts := make(map[string]int)
	j := 0
	for i := range matches {
		if j < i {
			j = i
		}
		for j < len(matches) && (j == i || matches[j].end-matches[i].start <= maxChars) {
			counts[matches[j].term]++
			j++
		}
		candidates = append(candidates, window{
			first:    i,
			last:     j - 1,
			distinct: len(counts),
			count:    j - i,
			start:    matches[i].start,
			end:      matches[j-1].end,
		})
		counts[matches[i].term]--
		if counts[matches[i].term] == 0 {
			delete(counts, matches[i].term)
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool { return candidates[a].better(candidates[b]) })
	var chosen []window
	for _, c := range candidates {
		if len(chosen) == maxFragments {
			break
		}
		free := true
		for _, w := range chosen {
			if c.overlaps(w) {
				free = false
				break
			}
		}
		if free {
			chosen = append(chosen, c)
		}
	}
	sort.Slice(chosen, func(a, b int) bool { return chosen[a].start < chosen[b].start })
	return chosen
}

func (h *Highlighter) render(src runeText, matches []span, w window) string {
	from := w.start - h.opts.Surround
	if from < 0 {
		from = 0
	}
	to := w.end + h.opts.Surround
	if to > len(src.runes) {
		to = len(src.runes)
	}
	for from > 0 && from < w.start && isWordRune(src.runes[from-1]) && isWordRune(src.runes[from]) {
		from++
	}
	for to < len(src.runes) && to > w.end && isWordRune(src.runes[to-1]) && isWordRune(src.runes[to]) {
		to--
	}

	var b strings.Builder
	pos := from
	for _, m := range matches {
		if m.start < from || m.end > to {
			continue
		}
		b.WriteString(collapseSpace(string(src.runes[pos:m.start])))
		b.WriteString(h.opts.Formatter(string(src.runes[m.start:m.end])))
		pos = m.end
	}
	b.WriteString(collapseSpace(string(src.runes[pos:to])))

	body := strings.TrimSpace(b.String())
	if body == "" {
		return ""
	}
	if from > 0 {
		body = ellipsis + body
	}
	if to < len(src.runes) {
		body += ellipsis
	}
	return body
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '\''
}

func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !space {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// runeText maps the byte offsets reported by the normalizer onto rune
// offsets so windows are measured in characters.
type runeText struct {
	runes  []rune
	byRune []int
	size   int
}

func newRuneText(s string) runeText {
	rt := runeText{runes: make([]rune, 0, utf8.RuneCountInString(s)), size: len(s)}
	for off, r := range s {
		rt.byRune = append(rt.byRune, off)
		rt.runes = append(rt.runes, r)
	}
	return rt
}

func (rt runeText) runeAt(byteOff int) int {
	if byteOff >= rt.size {
		return len(rt.runes)
	}
	return sort.SearchInts(rt.byRune, byteOff)
}
