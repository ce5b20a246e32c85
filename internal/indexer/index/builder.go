package index

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// Builder stages upserts and deletions against a base snapshot and
// produces the next generation. Build is deterministic: the result depends
// only on the set of staged documents, never on the order they were staged.
type Builder struct {
	base    *Snapshot
	adds    map[string]*DocSegment
	removes map[string]struct{}
}

func NewBuilder(base *Snapshot) *Builder {
	if base == nil {
		base = Empty()
	}
	return &Builder{
		base:    base,
		adds:    make(map[string]*DocSegment),
		removes: make(map[string]struct{}),
	}
}

// Add stages seg as the new version of its document, replacing any staged
// or committed version with the same id.
func (b *Builder) Add(seg *DocSegment) {
	delete(b.removes, seg.Doc.ID)
	b.adds[seg.Doc.ID] = seg
}

// Remove stages the deletion of id. It reports whether id exists in the
// base snapshot or was staged in this builder.
func (b *Builder) Remove(id string) bool {
	_, staged := b.adds[id]
	_, committed := b.base.docs[id]
	delete(b.adds, id)
	if committed {
		b.removes[id] = struct{}{}
	}
	return staged || committed
}

func (b *Builder) Pending() (adds, removes int) {
	return len(b.adds), len(b.removes)
}

// Build assembles the next snapshot.
func (b *Builder) Build() *Snapshot {
	base := b.base
	next := &Snapshot{
		generation:  base.generation + 1,
		nextOrdinal: base.nextOrdinal,
		docs:        make(map[string]*Document, len(base.docs)+len(b.adds)),
		byOrdinal:   make(map[uint32]*Document, len(base.docs)+len(b.adds)),
		fields:      make(map[string]*fieldIndex, len(base.fields)),
	}

	removed := roaring.New()
	for id, d := range base.docs {
		_, deleted := b.removes[id]
		_, replaced := b.adds[id]
		if deleted || replaced {
			removed.Add(d.Ordinal)
			continue
		}
		next.docs[id] = d
		next.byOrdinal[d.Ordinal] = d
	}

	for field, fi := range base.fields {
		nfi := &fieldIndex{
			terms:       make(map[string]*termPostings, len(fi.terms)),
			totalLength: fi.totalLength,
		}
		for term, tp := range fi.terms {
			if removed.IsEmpty() || !tp.bitmap.Intersects(removed) {
				nfi.terms[term] = tp
				continue
			}
			if filtered := withoutOrdinals(tp, removed); filtered != nil {
				nfi.terms[term] = filtered
			}
		}
		next.fields[field] = nfi
	}
	removed.Iterate(func(o uint32) bool {
		d := base.byOrdinal[o]
		for field, n := range d.Lengths {
			if fi, ok := next.fields[field]; ok {
				fi.totalLength -= int64(n)
			}
		}
		return true
	})

	ids := make([]string, 0, len(b.adds))
	for id := range b.adds {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	owned := make(map[*termPostings]bool)
	for _, id := range ids {
		seg := b.adds[id]
		ordinal := next.nextOrdinal
		next.nextOrdinal++

		doc := seg.Doc
		doc.Ordinal = ordinal
		next.docs[id] = &doc
		next.byOrdinal[ordinal] = &doc

		for field, terms := range seg.Postings {
			fi, ok := next.fields[field]
			if !ok {
				continue
			}
			fi.totalLength += int64(doc.Lengths[field])
			for term, p := range terms {
				tp := fi.terms[term]
				if tp == nil || !owned[tp] {
					tp = cloneTermPostings(tp)
					owned[tp] = true
					fi.terms[term] = tp
				}
				tp.list = append(tp.list, Posting{
					Ordinal:   ordinal,
					Frequency: p.Frequency,
					Positions: p.Positions,
				})
				tp.bitmap.Add(ordinal)
			}
		}
	}
	return next
}

func cloneTermPostings(tp *termPostings) *termPostings {
	if tp == nil {
		return &termPostings{bitmap: roaring.New()}
	}
	list := make(PostingList, len(tp.list), len(tp.list)+1)
	copy(list, tp.list)
	return &termPostings{list: list, bitmap: tp.bitmap.Clone()}
}

func withoutOrdinals(tp *termPostings, removed *roaring.Bitmap) *termPostings {
	bm := roaring.AndNot(tp.bitmap, removed)
	if bm.IsEmpty() {
		return nil
	}
	list := make(PostingList, 0, bm.GetCardinality())
	for _, p := range tp.list {
		if !removed.Contains(p.Ordinal) {
			list = append(list, p)
		}
	}
	return &termPostings{list: list, bitmap: bm}
}
