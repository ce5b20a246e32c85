package ranker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/normalizer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
)

func split(text string) []normalizer.Term {
	var terms []normalizer.Term
	for i, w := range strings.Fields(strings.ToLower(text)) {
		terms = append(terms, normalizer.Term{Text: w, Position: i})
	}
	return terms
}

func seg(id, content string) *index.DocSegment {
	return index.BuildDocSegment(id, id+".txt", content, map[string][]normalizer.Term{
		index.FieldContent: split(content),
		index.FieldName:    split(id),
	})
}

func build(base *index.Snapshot, segs ...*index.DocSegment) *index.Snapshot {
	b := index.NewBuilder(base)
	for _, s := range segs {
		b.Add(s)
	}
	return b.Build()
}

func term(t string) parser.Node { return &parser.TermNode{Term: t} }

func ids(docs []ScoredDoc) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.DocID
	}
	return out
}

func TestQuickFoxScenario(t *testing.T) {
	n := normalizer.Default()
	require.NoError(t, n.EnsureInitialized())
	mk := func(id, content string) *index.DocSegment {
		return index.BuildDocSegment(id, id+".txt", content, map[string][]normalizer.Term{
			index.FieldContent: n.Normalize(content),
			index.FieldName:    n.Normalize(id + ".txt"),
		})
	}
	snap := build(index.Empty(), mk("A", "The quick brown fox"), mk("B", "Quick quick fox jumps"))

	tree, err := parser.Parse("quick fox", n)
	require.NoError(t, err)

	results, total := Search(snap, tree, 50)
	require.Len(t, results, 2)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"B", "A"}, ids(results))
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestAndRequiresEveryChild(t *testing.T) {
	snap := build(index.Empty(),
		seg("a", "alpha beta"),
		seg("b", "alpha gamma"),
		seg("c", "beta gamma"),
	)
	results, total := Search(snap, &parser.AndNode{Children: []parser.Node{term("alpha"), term("beta")}}, 10)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"a"}, ids(results))

	results, _ = Search(snap, &parser.AndNode{Children: []parser.Node{term("alpha"), term("missing")}}, 10)
	assert.Empty(t, results)
}

func TestOrSumsContributingChildren(t *testing.T) {
	snap := build(index.Empty(),
		seg("a", "alpha beta"),
		seg("b", "alpha gamma"),
		seg("c", "delta delta"),
	)
	or := &parser.OrNode{Children: []parser.Node{term("beta"), term("gamma"), term("missing")}}
	results, total := Search(snap, or, 10)
	assert.Equal(t, 2, total)
	assert.ElementsMatch(t, []string{"a", "b"}, ids(results))

	single, _ := Search(snap, term("beta"), 10)
	require.Len(t, single, 1)
	for _, r := range results {
		if r.DocID == "a" {
			assert.InDelta(t, single[0].Score, r.Score, 1e-12)
		}
	}

	both, _ := Search(snap, &parser.OrNode{Children: []parser.Node{term("alpha"), term("beta")}}, 10)
	require.Len(t, both, 2)
	assert.Equal(t, "a", both[0].DocID)
}

func TestFieldScopesMatching(t *testing.T) {
	snap := build(index.Empty(),
		seg("report", "quarterly numbers"),
		seg("notes", "report draft"),
	)
	results, _ := Search(snap, &parser.FieldNode{Field: index.FieldName, Child: term("report")}, 10)
	assert.Equal(t, []string{"report"}, ids(results))

	results, _ = Search(snap, term("report"), 10)
	assert.Equal(t, []string{"notes"}, ids(results))
}

func TestTieBreakFollowsCommitOrder(t *testing.T) {
	first := build(index.Empty(), seg("z", "same words here"))
	snap := build(first, seg("m", "same words here"), seg("a", "same words here"))

	results, _ := Search(snap, term("words"), 10)
	require.Len(t, results, 3)
	assert.Equal(t, results[0].Score, results[2].Score)
	assert.Equal(t, []string{"z", "a", "m"}, ids(results))

	for i := 0; i < 5; i++ {
		again, _ := Search(snap, term("words"), 10)
		assert.Equal(t, ids(results), ids(again))
	}
}

func TestLimit(t *testing.T) {
	snap := build(index.Empty(), seg("a", "x"), seg("b", "x x"), seg("c", "x x x"))

	results, total := Search(snap, term("x"), 2)
	assert.Len(t, results, 2)
	assert.Equal(t, 3, total)
	assert.Equal(t, []string{"c", "b"}, ids(results))

	results, total = Search(snap, term("x"), 0)
	assert.Empty(t, results)
	assert.Equal(t, 3, total)
}

func TestEmptyInputs(t *testing.T) {
	results, total := Search(index.Empty(), term("x"), 10)
	assert.Empty(t, results)
	assert.Zero(t, total)

	snap := build(index.Empty(), seg("a", "x"))
	results, _ = Search(snap, nil, 10)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestScoreSaturates(t *testing.T) {
	var segs []*index.DocSegment
	for k := 1; k <= 8; k++ {
		words := append(strings.Split(strings.Repeat("fox ", k), " ")[:k], strings.Split(strings.Repeat("pad ", 8-k), " ")[:8-k]...)
		segs = append(segs, seg(string(rune('a'+k-1)), strings.Join(words, " ")))
	}
	snap := build(index.Empty(), segs...)

	results, _ := Search(snap, term("fox"), 10)
	require.Len(t, results, 8)
	byID := map[string]float64{}
	for _, r := range results {
		byID[r.DocID] = r.Score
	}
	prevGain := 0.0
	for k := 2; k <= 8; k++ {
		lo, hi := byID[string(rune('a'+k-2))], byID[string(rune('a'+k-1))]
		gain := hi - lo
		assert.Greater(t, gain, 0.0)
		if k > 2 {
			assert.Less(t, gain, prevGain)
		}
		prevGain = gain
	}
	ceiling := computeIDF(8, 8) * (k1 + 1)
	assert.Less(t, byID["h"], ceiling)
}

func TestIDFStaysPositive(t *testing.T) {
	assert.Greater(t, computeIDF(10, 10), 0.0)
	assert.Greater(t, computeIDF(10, 1), computeIDF(10, 5))
}

func TestTopKOrdering(t *testing.T) {
	top := newTopK(3)
	for _, d := range []ScoredDoc{
		{Ordinal: 4, Score: 1}, {Ordinal: 1, Score: 2}, {Ordinal: 3, Score: 2},
		{Ordinal: 0, Score: 0.5}, {Ordinal: 2, Score: 2},
	} {
		top.offer(d)
	}
	got := top.sorted()
	require.Len(t, got, 3)
	assert.Equal(t, []uint32{1, 2, 3}, []uint32{got[0].Ordinal, got[1].Ordinal, got[2].Ordinal})
}
