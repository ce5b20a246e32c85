package segment

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/golang/snappy"
	"golang.org/x/exp/mmap"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
)

var ErrCorrupt = errors.New("corrupt segment file")

// Reader gives random access to one segment file through a read-only
// memory map.
type Reader struct {
	file     *mmap.ReaderAt
	filePath string
	header   SegmentHeader
	footer   SegmentFooter
	dict     []DictEntry
}

func OpenReader(path string) (*Reader, error) {
	f, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := newReader(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func newReader(f *mmap.ReaderAt, path string) (*Reader, error) {
	size := int64(f.Len())
	if size < int64(HeaderSize+FooterSize) {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrCorrupt, path, size)
	}

	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(headerBytes[0:4])
	if magic != MagicBytes {
		return nil, fmt.Errorf("%w: bad magic bytes %x", ErrCorrupt, magic)
	}
	header := SegmentHeader{
		Magic:       magic,
		Version:     binary.LittleEndian.Uint32(headerBytes[4:8]),
		TermCount:   binary.LittleEndian.Uint32(headerBytes[8:12]),
		DocCount:    binary.LittleEndian.Uint32(headerBytes[12:16]),
		DictOffset:  int64(binary.LittleEndian.Uint64(headerBytes[16:24])),
		DictSize:    int64(binary.LittleEndian.Uint64(headerBytes[24:32])),
		PostOffset:  int64(binary.LittleEndian.Uint64(headerBytes[32:40])),
		PostSize:    int64(binary.LittleEndian.Uint64(headerBytes[40:48])),
		Generation:  binary.LittleEndian.Uint64(headerBytes[48:56]),
		NextOrdinal: binary.LittleEndian.Uint32(headerBytes[56:60]),
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, header.Version)
	}

	footerBytes := make([]byte, FooterSize)
	if _, err := f.ReadAt(footerBytes, size-int64(FooterSize)); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	footer := SegmentFooter{
		Checksum:  binary.LittleEndian.Uint32(footerBytes[0:4]),
		DocCount:  binary.LittleEndian.Uint32(footerBytes[4:8]),
		DocOffset: int64(binary.LittleEndian.Uint64(footerBytes[8:16])),
		DocSize:   int64(binary.LittleEndian.Uint64(footerBytes[16:24])),
		CreatedAt: int64(binary.LittleEndian.Uint64(footerBytes[24:32])),
	}

	body := make([]byte, size-int64(HeaderSize+FooterSize))
	if _, err := f.ReadAt(body, int64(HeaderSize)); err != nil {
		return nil, fmt.Errorf("reading segment body: %w", err)
	}
	if sum := crc32.ChecksumIEEE(body); sum != footer.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch in %s (%08x != %08x)", ErrCorrupt, path, sum, footer.Checksum)
	}

	r := &Reader{file: f, filePath: path, header: header, footer: footer}
	var dict []DictEntry
	if err := r.readBlock(header.DictOffset, header.DictSize, &dict); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	r.dict = dict
	return r, nil
}

func (r *Reader) readBlock(offset, size int64, v any) error {
	if offset < int64(HeaderSize) || offset+size > int64(r.file.Len()-FooterSize) {
		return fmt.Errorf("%w: block [%d,%d) out of range", ErrCorrupt, offset, offset+size)
	}
	compressed := make([]byte, size)
	if _, err := r.file.ReadAt(compressed, offset); err != nil {
		return err
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return json.Unmarshal(data, v)
}

func (r *Reader) find(field, term string) (DictEntry, bool) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		if r.dict[i].Field != field {
			return r.dict[i].Field >= field
		}
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Field != field || r.dict[idx].Term != term {
		return DictEntry{}, false
	}
	return r.dict[idx], true
}

// Search returns the postings of term in field, or nil when absent.
func (r *Reader) Search(field, term string) (index.PostingList, error) {
	entry, ok := r.find(field, term)
	if !ok {
		return nil, nil
	}
	var postings index.PostingList
	if err := r.readBlock(r.header.PostOffset+entry.PostOffset, int64(entry.PostLen), &postings); err != nil {
		return nil, fmt.Errorf("reading postings for %s:%q: %w", field, term, err)
	}
	return postings, nil
}

// Documents decodes the stored document table.
func (r *Reader) Documents() ([]index.Document, error) {
	var docs []index.Document
	if err := r.readBlock(r.footer.DocOffset, r.footer.DocSize, &docs); err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	return docs, nil
}

// Snapshot decodes the whole segment into an in-memory snapshot.
func (r *Reader) Snapshot() (*index.Snapshot, error) {
	docs, err := r.Documents()
	if err != nil {
		return nil, err
	}
	entries := make([]index.TermEntry, 0, len(r.dict))
	for _, d := range r.dict {
		postings, err := r.Search(d.Field, d.Term)
		if err != nil {
			return nil, err
		}
		entries = append(entries, index.TermEntry{Field: d.Field, Term: d.Term, Postings: postings})
	}
	snap, err := index.Restore(r.header.Generation, r.header.NextOrdinal, docs, entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return snap, nil
}

func (r *Reader) Generation() uint64 {
	return r.header.Generation
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Close() error {
	return r.file.Close()
}
