// Package normalizer turns raw text into the ordered term stream shared by
// indexing and querying.
//
// The pipeline is fixed: UAX #29 word segmentation, NFKC folding and
// lowercasing, Snowball English stemming, then dictionary lemmatization of
// the stemmed form. Every stage passes a token through unchanged when it
// cannot process it, so Normalize never fails.
package normalizer

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/aaaton/golem/v4"
	"github.com/aaaton/golem/v4/dicts/en"
	"github.com/clipperhouse/uax29/v2/words"
	snowballeng "github.com/kljensen/snowball/english"
	"golang.org/x/text/unicode/norm"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
)

// Term is one normalized token. Position is the 0-based index of the token
// in the tokenized sequence; Start and End are byte offsets of the source
// token in the input text.
type Term struct {
	Text     string
	Position int
	Start    int
	End      int
}

// Warning records a token that a pipeline stage could not process. The token
// is still emitted with the output of the stages that did succeed.
type Warning struct {
	Stage string
	Token string
	Err   error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: token %q passed through: %v", w.Stage, w.Token, w.Err)
}

// Lemmatizer maps a word to its dictionary form.
type Lemmatizer interface {
	Lemma(word string) string
}

// Normalizer holds the linguistic resources used by the pipeline. The zero
// value is not usable; call New.
type Normalizer struct {
	loadLemmatizer func() (Lemmatizer, error)
	stem           func(string) string

	once       sync.Once
	lemmatizer Lemmatizer
	initErr    error
	logger     *slog.Logger
}

type Option func(*Normalizer)

// WithLemmatizer replaces the dictionary loader.
func WithLemmatizer(load func() (Lemmatizer, error)) Option {
	return func(n *Normalizer) { n.loadLemmatizer = load }
}

// WithStemmer replaces the stemming stage.
func WithStemmer(stem func(string) string) Option {
	return func(n *Normalizer) { n.stem = stem }
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		loadLemmatizer: loadEnglish,
		stem:           func(s string) string { return snowballeng.Stem(s, false) },
		logger:         logger.WithComponent("normalizer"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func loadEnglish() (Lemmatizer, error) {
	l, err := golem.New(en.New())
	if err != nil {
		return nil, fmt.Errorf("loading english lemma dictionary: %w", err)
	}
	return l, nil
}

// EnsureInitialized loads the lemma dictionary exactly once. Concurrent
// callers block until the first load finishes. A failed load is remembered:
// the lemmatization stage is then skipped for every token.
func (n *Normalizer) EnsureInitialized() error {
	n.once.Do(func() {
		l, err := safeLoad(n.loadLemmatizer)
		if err != nil {
			n.initErr = err
			n.logger.Warn("lemmatizer unavailable, tokens will not be lemmatized", "error", err)
			return
		}
		n.lemmatizer = l
	})
	return n.initErr
}

func safeLoad(load func() (Lemmatizer, error)) (l Lemmatizer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lemmatizer loader panicked: %v", r)
		}
	}()
	return load()
}

// Normalize returns the ordered terms of text.
func (n *Normalizer) Normalize(text string) []Term {
	terms, _ := n.NormalizeDetailed(text)
	return terms
}

// NormalizeDetailed is Normalize plus the warnings raised by tokens that
// passed through a stage unprocessed.
func (n *Normalizer) NormalizeDetailed(text string) ([]Term, []Warning) {
	initErr := n.EnsureInitialized()

	var (
		terms    []Term
		warnings []Warning
		offset   int
	)
	if initErr != nil && text != "" {
		warnings = append(warnings, Warning{Stage: "lemmatize", Err: initErr})
	}

	seg := words.FromString(text)
	for seg.Next() {
		raw := seg.Value()
		start := offset
		offset += len(raw)
		if !isWord(raw) {
			continue
		}

		tok := strings.ToLower(norm.NFKC.String(raw))

		stemmed, err := n.applyStem(tok)
		if err != nil {
			warnings = append(warnings, Warning{Stage: "stem", Token: tok, Err: err})
			stemmed = tok
		}

		lemma := stemmed
		if n.lemmatizer != nil {
			lemma, err = n.applyLemma(stemmed)
			if err != nil {
				warnings = append(warnings, Warning{Stage: "lemmatize", Token: stemmed, Err: err})
				lemma = stemmed
			}
		}
		if lemma == "" {
			lemma = stemmed
		}
		if lemma == "" {
			continue
		}

		terms = append(terms, Term{
			Text:     lemma,
			Position: len(terms),
			Start:    start,
			End:      offset,
		})
	}
	return terms, warnings
}

func (n *Normalizer) applyStem(tok string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stemmer panicked: %v", r)
		}
	}()
	return n.stem(tok), nil
}

func (n *Normalizer) applyLemma(tok string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lemmatizer panicked: %v", r)
		}
	}()
	return strings.ToLower(n.lemmatizer.Lemma(tok)), nil
}

// Terms returns only the term texts of text, in order.
func (n *Normalizer) Terms(text string) []string {
	terms := n.Normalize(text)
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.Text
	}
	return out
}

// Text renders text as its normalized terms joined by single spaces.
func (n *Normalizer) Text(text string) string {
	return Join(n.Normalize(text))
}

// Join renders terms as a space separated string.
func Join(terms []Term) string {
	var b strings.Builder
	for i, t := range terms {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t.Text)
	}
	return b.String()
}

func isWord(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

var (
	defaultOnce sync.Once
	defaultNorm *Normalizer
)

// Default returns the process-wide normalizer.
func Default() *Normalizer {
	defaultOnce.Do(func() {
		defaultNorm = New()
	})
	return defaultNorm
}

// EnsureInitialized initializes the process-wide normalizer.
func EnsureInitialized() error {
	return Default().EnsureInitialized()
}

// Normalize runs text through the process-wide normalizer.
func Normalize(text string) []Term {
	return Default().Normalize(text)
}
