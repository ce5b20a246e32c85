// Package ranker evaluates a query tree against a snapshot and scores the
// matching documents with BM25.
package ranker

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
)

const (
	k1 = 1.2
	b  = 0.75
)

type ScoredDoc struct {
	Ordinal uint32  `json:"-"`
	DocID   string  `json:"doc_id"`
	Score   float64 `json:"score"`
}

// Search returns the limit best-scoring documents matching tree together
// with the total number of matches. Equal scores keep commit order. A nil
// tree or a non-positive limit yields no results.
func Search(snap *index.Snapshot, tree parser.Node, limit int) ([]ScoredDoc, int) {
	if snap == nil || tree == nil || snap.DocCount() == 0 {
		return []ScoredDoc{}, 0
	}
	m := parser.Visit[match](tree, &evaluator{snap: snap, field: index.FieldContent})
	if m.docs == nil || m.docs.IsEmpty() {
		return []ScoredDoc{}, 0
	}
	total := int(m.docs.GetCardinality())
	if limit <= 0 {
		return []ScoredDoc{}, total
	}

	top := newTopK(limit)
	it := m.docs.Iterator()
	for it.HasNext() {
		o := it.Next()
		top.offer(ScoredDoc{Ordinal: o, Score: m.scores[o]})
	}
	result := top.sorted()
	for i := range result {
		if d, ok := snap.DocumentByOrdinal(result[i].Ordinal); ok {
			result[i].DocID = d.ID
		}
	}
	return result, total
}

// match is the evaluation result of one subtree: the set of matching
// ordinals and each one's accumulated score.
type match struct {
	docs   *roaring.Bitmap
	scores map[uint32]float64
}

type evaluator struct {
	snap  *index.Snapshot
	field string
}

func (e *evaluator) VisitTerm(n *parser.TermNode) match {
	postings := e.snap.Postings(e.field, n.Term)
	if len(postings) == 0 {
		return match{}
	}
	idf := computeIDF(int64(e.snap.DocCount()), int64(len(postings)))
	avg := e.snap.AvgFieldLength(e.field)
	scores := make(map[uint32]float64, len(postings))
	for _, p := range postings {
		dl := 0
		if d, ok := e.snap.DocumentByOrdinal(p.Ordinal); ok {
			dl = d.FieldLength(e.field)
		}
		scores[p.Ordinal] = idf * computeTFNorm(float64(p.Frequency), float64(dl), avg)
	}
	return match{docs: e.snap.Bitmap(e.field, n.Term), scores: scores}
}

func (e *evaluator) VisitField(n *parser.FieldNode) match {
	return parser.Visit[match](n.Child, &evaluator{snap: e.snap, field: n.Field})
}

func (e *evaluator) VisitAnd(n *parser.AndNode) match {
	children := make([]match, 0, len(n.Children))
	bitmaps := make([]*roaring.Bitmap, 0, len(n.Children))
	for _, c := range n.Children {
		m := parser.Visit[match](c, e)
		if m.docs == nil || m.docs.IsEmpty() {
			return match{}
		}
		children = append(children, m)
		bitmaps = append(bitmaps, m.docs)
	}
	docs := roaring.FastAnd(bitmaps...)
	return match{docs: docs, scores: sumScores(docs, children)}
}

func (e *evaluator) VisitOr(n *parser.OrNode) match {
	children := make([]match, 0, len(n.Children))
	bitmaps := make([]*roaring.Bitmap, 0, len(n.Children))
	for _, c := range n.Children {
		m := parser.Visit[match](c, e)
		if m.docs == nil || m.docs.IsEmpty() {
			continue
		}
		children = append(children, m)
		bitmaps = append(bitmaps, m.docs)
	}
	if len(children) == 0 {
		return match{}
	}
	docs := roaring.FastOr(bitmaps...)
	return match{docs: docs, scores: sumScores(docs, children)}
}

// sumScores adds the children's scores in child order; children that do
// not match a document contribute nothing.
func sumScores(docs *roaring.Bitmap, children []match) map[uint32]float64 {
	scores := make(map[uint32]float64, docs.GetCardinality())
	it := docs.Iterator()
	for it.HasNext() {
		o := it.Next()
		var s float64
		for _, c := range children {
			s += c.scores[o]
		}
		scores[o] = s
	}
	return scores
}

// computeIDF is the BM25 inverse document frequency with the +1 inside the
// logarithm, which keeps it positive even for terms present in every
// document.
func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(1 + numerator/denominator)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	lengthRatio := 1.0
	if avgDocLength > 0 {
		lengthRatio = docLength / avgDocLength
	}
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
