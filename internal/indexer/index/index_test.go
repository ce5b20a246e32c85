package index

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/normalizer"
)

// split is a whitespace tokenizer that keeps these tests independent of the
// linguistic pipeline.
func split(text string) []normalizer.Term {
	var terms []normalizer.Term
	for i, w := range strings.Fields(strings.ToLower(text)) {
		terms = append(terms, normalizer.Term{Text: w, Position: i})
	}
	return terms
}

func seg(id, content string) *DocSegment {
	return BuildDocSegment(id, id+".txt", content, map[string][]normalizer.Term{
		FieldContent: split(content),
		FieldName:    split(id),
	})
}

func build(base *Snapshot, segs ...*DocSegment) *Snapshot {
	b := NewBuilder(base)
	for _, s := range segs {
		b.Add(s)
	}
	return b.Build()
}

func TestBuildDocSegment(t *testing.T) {
	s := seg("a", "quick quick fox")

	assert.Equal(t, 3, s.Doc.Lengths[FieldContent])
	assert.Equal(t, 15, s.Doc.RawLength)
	quick := s.Postings[FieldContent]["quick"]
	require.NotNil(t, quick)
	assert.Equal(t, 2, quick.Frequency)
	assert.Equal(t, []int{0, 1}, quick.Positions)
	assert.Equal(t, 3, s.TermCount())
}

func TestBuilderAssignsOrdinalsByID(t *testing.T) {
	snap := build(Empty(), seg("b", "fox"), seg("a", "fox"), seg("c", "dog"))

	assert.Equal(t, uint64(1), snap.Generation())
	assert.Equal(t, 3, snap.DocCount())
	a, _ := snap.Document("a")
	b, _ := snap.Document("b")
	c, _ := snap.Document("c")
	assert.Equal(t, []uint32{0, 1, 2}, []uint32{a.Ordinal, b.Ordinal, c.Ordinal})

	fox := snap.Postings(FieldContent, "fox")
	require.Len(t, fox, 2)
	assert.Equal(t, uint32(0), fox[0].Ordinal)
	assert.Equal(t, uint32(1), fox[1].Ordinal)
	assert.Equal(t, 2, snap.DocFreq(FieldContent, "fox"))
	assert.True(t, snap.Bitmap(FieldContent, "dog").Contains(2))
}

func TestUpsertReplacesWithoutDuplicating(t *testing.T) {
	first := build(Empty(), seg("a", "alpha beta"), seg("b", "beta"))
	second := build(first, seg("a", "gamma"))

	assert.Equal(t, 2, second.DocCount())
	doc, ok := second.Document("a")
	require.True(t, ok)
	assert.Equal(t, "gamma", doc.Content)
	assert.Nil(t, second.Postings(FieldContent, "alpha"))
	assert.Equal(t, 1, second.DocFreq(FieldContent, "beta"))
	assert.Equal(t, 1, second.DocFreq(FieldContent, "gamma"))

	// re-indexed documents move to the end of commit order
	b, _ := second.Document("b")
	assert.Greater(t, doc.Ordinal, b.Ordinal)
}

func TestPublishedSnapshotIsNeverMutated(t *testing.T) {
	first := build(Empty(), seg("a", "shared term"), seg("b", "shared other"))
	before := first.Fingerprint()
	firstShared := first.Postings(FieldContent, "shared")

	b := NewBuilder(first)
	b.Add(seg("c", "shared again"))
	b.Remove("a")
	second := b.Build()

	assert.Equal(t, before, first.Fingerprint())
	assert.Len(t, firstShared, 2)
	assert.Equal(t, 2, first.DocFreq(FieldContent, "shared"))
	assert.Equal(t, 2, second.DocFreq(FieldContent, "shared"))
	_, ok := first.Document("a")
	assert.True(t, ok)
	_, ok = second.Document("a")
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	first := build(Empty(), seg("a", "only here"), seg("b", "here too"))

	b := NewBuilder(first)
	assert.True(t, b.Remove("a"))
	assert.False(t, b.Remove("missing"))
	next := b.Build()

	assert.Equal(t, 1, next.DocCount())
	assert.Nil(t, next.Postings(FieldContent, "only"))
	assert.Equal(t, 1, next.DocFreq(FieldContent, "here"))
	assert.InDelta(t, 2.0, next.AvgFieldLength(FieldContent), 1e-9)
}

func TestRemoveThenAddInSameSession(t *testing.T) {
	first := build(Empty(), seg("a", "old"))

	b := NewBuilder(first)
	b.Remove("a")
	b.Add(seg("a", "new"))
	next := b.Build()

	doc, ok := next.Document("a")
	require.True(t, ok)
	assert.Equal(t, "new", doc.Content)
	assert.Nil(t, next.Postings(FieldContent, "old"))
}

func TestAvgFieldLength(t *testing.T) {
	snap := build(Empty(), seg("a", "one two three"), seg("b", "one"))
	assert.InDelta(t, 2.0, snap.AvgFieldLength(FieldContent), 1e-9)
	assert.Zero(t, Empty().AvgFieldLength(FieldContent))
}

func TestRestoreRoundTrip(t *testing.T) {
	snap := build(Empty(), seg("a", "quick fox"), seg("b", "lazy dog fox"))

	docs := make([]Document, 0)
	for _, d := range snap.Documents() {
		docs = append(docs, *d)
	}
	restored, err := Restore(snap.Generation(), snap.NextOrdinal(), docs, snap.Entries())
	require.NoError(t, err)

	assert.Equal(t, snap.Fingerprint(), restored.Fingerprint())
	assert.Equal(t, snap.Generation(), restored.Generation())
	assert.InDelta(t, snap.AvgFieldLength(FieldContent), restored.AvgFieldLength(FieldContent), 1e-9)
}

func TestRestoreRejectsDanglingOrdinal(t *testing.T) {
	_, err := Restore(1, 1, nil, []TermEntry{{
		Field:    FieldContent,
		Term:     "ghost",
		Postings: PostingList{{Ordinal: 0, Frequency: 1, Positions: []int{0}}},
	}})
	assert.Error(t, err)
}

func TestResolveField(t *testing.T) {
	f, ok := ResolveField("filename")
	assert.True(t, ok)
	assert.Equal(t, FieldName, f)
	f, ok = ResolveField("Content")
	assert.True(t, ok)
	assert.Equal(t, FieldContent, f)
	_, ok = ResolveField("author")
	assert.False(t, ok)
}

func TestPostingListFind(t *testing.T) {
	pl := PostingList{{Ordinal: 1}, {Ordinal: 4}, {Ordinal: 9}}
	p, ok := pl.Find(4)
	assert.True(t, ok)
	assert.Equal(t, uint32(4), p.Ordinal)
	_, ok = pl.Find(5)
	assert.False(t, ok)
}

func TestMergeIsOrderIndependent(t *testing.T) {
	corpus := []*DocSegment{
		seg("d1", "quick brown fox"),
		seg("d2", "lazy dog"),
		seg("d3", "quick dog"),
		seg("d4", "brown brown bear"),
		seg("d5", "fox and dog"),
	}
	base := build(Empty(), seg("d2", "old text"), seg("d9", "kept doc"))
	want := build(base, corpus...).Fingerprint()

	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("staging order does not change the snapshot", prop.ForAll(
		func(seed int64) bool {
			order := permute(len(corpus), seed)
			b := NewBuilder(base)
			for _, i := range order {
				b.Add(corpus[i])
			}
			return b.Build().Fingerprint() == want
		},
		gen.Int64(),
	))
	properties.TestingRun(t)
}

func permute(n int, seed int64) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	x := uint64(seed)
	for i := n - 1; i > 0; i-- {
		x = x*6364136223846793005 + 1442695040888963407
		j := int((x >> 33) % uint64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}
