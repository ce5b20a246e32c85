package index

import (
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/normalizer"
)

// DocSegment is the partial index built for a single document before it
// is merged into a snapshot. Postings carry no ordinal until the merge.
type DocSegment struct {
	Doc      Document
	Postings map[string]map[string]*Posting
}

// BuildDocSegment groups the normalized terms of each field into postings.
func BuildDocSegment(id, displayName, content string, fields map[string][]normalizer.Term) *DocSegment {
	seg := &DocSegment{
		Doc: Document{
			ID:          id,
			DisplayName: displayName,
			Content:     content,
			Lengths:     make(map[string]int, len(fields)),
			RawLength:   len(content),
		},
		Postings: make(map[string]map[string]*Posting, len(fields)),
	}

	for field, terms := range fields {
		seg.Doc.Lengths[field] = len(terms)
		if len(terms) == 0 {
			continue
		}
		termData := make(map[string]*Posting)
		for _, t := range terms {
			p, exists := termData[t.Text]
			if !exists {
				p = &Posting{Positions: make([]int, 0, 4)}
				termData[t.Text] = p
			}
			p.Frequency++
			p.Positions = append(p.Positions, t.Position)
		}
		seg.Postings[field] = termData
	}
	return seg
}

// TermCount returns the number of distinct (field, term) keys.
func (s *DocSegment) TermCount() int {
	n := 0
	for _, terms := range s.Postings {
		n += len(terms)
	}
	return n
}
