package index

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"
)

type termPostings struct {
	list   PostingList
	bitmap *roaring.Bitmap
}

type fieldIndex struct {
	terms       map[string]*termPostings
	totalLength int64
}

// Snapshot is an immutable, versioned view of the document table and every
// posting list. Nothing reachable from a published Snapshot is ever
// mutated; Builder produces the next generation by copying what changes and
// sharing what does not.
type Snapshot struct {
	generation  uint64
	nextOrdinal uint32
	docs        map[string]*Document
	byOrdinal   map[uint32]*Document
	fields      map[string]*fieldIndex

	fpOnce sync.Once
	fp     uint64
}

// Empty returns the generation-0 snapshot with no documents.
func Empty() *Snapshot {
	s := &Snapshot{
		docs:      make(map[string]*Document),
		byOrdinal: make(map[uint32]*Document),
		fields:    make(map[string]*fieldIndex, len(Fields)),
	}
	for _, f := range Fields {
		s.fields[f] = &fieldIndex{terms: make(map[string]*termPostings)}
	}
	return s
}

// Restore rebuilds a snapshot from persisted documents and term entries.
func Restore(generation uint64, nextOrdinal uint32, docs []Document, entries []TermEntry) (*Snapshot, error) {
	s := Empty()
	s.generation = generation
	s.nextOrdinal = nextOrdinal

	for i := range docs {
		d := docs[i]
		if _, dup := s.docs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate document id %q", d.ID)
		}
		if d.Ordinal >= nextOrdinal {
			return nil, fmt.Errorf("document %q ordinal %d beyond next ordinal %d", d.ID, d.Ordinal, nextOrdinal)
		}
		s.docs[d.ID] = &d
		s.byOrdinal[d.Ordinal] = &d
		for field, n := range d.Lengths {
			if fi, ok := s.fields[field]; ok {
				fi.totalLength += int64(n)
			}
		}
	}

	for _, e := range entries {
		fi, ok := s.fields[e.Field]
		if !ok {
			return nil, fmt.Errorf("unknown field %q for term %q", e.Field, e.Term)
		}
		bm := roaring.New()
		for _, p := range e.Postings {
			if _, ok := s.byOrdinal[p.Ordinal]; !ok {
				return nil, fmt.Errorf("term %s:%s references missing ordinal %d", e.Field, e.Term, p.Ordinal)
			}
			bm.Add(p.Ordinal)
		}
		fi.terms[e.Term] = &termPostings{list: e.Postings, bitmap: bm}
	}
	return s, nil
}

func (s *Snapshot) Generation() uint64 { return s.generation }

func (s *Snapshot) NextOrdinal() uint32 { return s.nextOrdinal }

func (s *Snapshot) DocCount() int { return len(s.docs) }

func (s *Snapshot) Document(id string) (*Document, bool) {
	d, ok := s.docs[id]
	return d, ok
}

func (s *Snapshot) DocumentByOrdinal(ordinal uint32) (*Document, bool) {
	d, ok := s.byOrdinal[ordinal]
	return d, ok
}

// Documents returns every document in commit order.
func (s *Snapshot) Documents() []*Document {
	out := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

func (s *Snapshot) lookup(field, term string) *termPostings {
	fi, ok := s.fields[field]
	if !ok {
		return nil
	}
	return fi.terms[term]
}

// Postings returns the posting list of term in field, or nil.
func (s *Snapshot) Postings(field, term string) PostingList {
	if tp := s.lookup(field, term); tp != nil {
		return tp.list
	}
	return nil
}

// Bitmap returns the ordinals containing term in field. The bitmap is
// shared with the snapshot and must not be modified.
func (s *Snapshot) Bitmap(field, term string) *roaring.Bitmap {
	if tp := s.lookup(field, term); tp != nil {
		return tp.bitmap
	}
	return nil
}

// DocFreq returns the number of documents containing term in field.
func (s *Snapshot) DocFreq(field, term string) int {
	if tp := s.lookup(field, term); tp != nil {
		return len(tp.list)
	}
	return 0
}

// AvgFieldLength returns the mean normalized length of field.
func (s *Snapshot) AvgFieldLength(field string) float64 {
	fi, ok := s.fields[field]
	if !ok || len(s.docs) == 0 {
		return 0
	}
	return float64(fi.totalLength) / float64(len(s.docs))
}

// Terms returns the sorted vocabulary of field.
func (s *Snapshot) Terms(field string) []string {
	fi, ok := s.fields[field]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(fi.terms))
	for t := range fi.terms {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TermCount returns the number of distinct (field, term) keys.
func (s *Snapshot) TermCount() int {
	n := 0
	for _, fi := range s.fields {
		n += len(fi.terms)
	}
	return n
}

// Entries returns every (field, term) key with its postings, sorted by
// field then term.
func (s *Snapshot) Entries() []TermEntry {
	entries := make([]TermEntry, 0, s.TermCount())
	for _, field := range Fields {
		for _, term := range s.Terms(field) {
			entries = append(entries, TermEntry{
				Field:    field,
				Term:     term,
				Postings: s.fields[field].terms[term].list,
			})
		}
	}
	return entries
}

// Fingerprint hashes the document table and every posting list. Two
// snapshots with identical content have identical fingerprints regardless
// of generation. The hash is computed once per snapshot.
func (s *Snapshot) Fingerprint() uint64 {
	s.fpOnce.Do(func() { s.fp = s.fingerprint() })
	return s.fp
}

func (s *Snapshot) fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	writeInt := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	writeStr := func(v string) {
		writeInt(uint64(len(v)))
		_, _ = h.WriteString(v)
	}

	writeInt(uint64(s.nextOrdinal))
	for _, d := range s.Documents() {
		writeStr(d.ID)
		writeStr(d.DisplayName)
		writeStr(d.Content)
		writeInt(uint64(d.Ordinal))
		for _, f := range Fields {
			writeInt(uint64(d.Lengths[f]))
		}
	}
	for _, e := range s.Entries() {
		writeStr(e.Field)
		writeStr(e.Term)
		for _, p := range e.Postings {
			writeInt(uint64(p.Ordinal))
			writeInt(uint64(p.Frequency))
			for _, pos := range p.Positions {
				writeInt(uint64(pos))
			}
		}
	}
	return h.Sum64()
}
