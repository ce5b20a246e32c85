package index

// Posting records the occurrences of one term in one document. Ordinal is
// the document's commit-order number within the index.
type Posting struct {
	Ordinal   uint32 `json:"o"`
	Frequency int    `json:"f"`
	Positions []int  `json:"p"`
}

// PostingList holds the postings of one term, sorted by ordinal.
type PostingList []Posting

// Find returns the posting for ordinal using binary search.
func (pl PostingList) Find(ordinal uint32) (Posting, bool) {
	lo, hi := 0, len(pl)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if pl[mid].Ordinal < ordinal {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(pl) && pl[lo].Ordinal == ordinal {
		return pl[lo], true
	}
	return Posting{}, false
}

// TermEntry is one (field, term) key with its postings.
type TermEntry struct {
	Field    string
	Term     string
	Postings PostingList
}
