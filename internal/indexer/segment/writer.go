package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 32
)

// SegmentHeader is the 64-byte header written at the start of every segment.
type SegmentHeader struct {
	Magic       uint32
	Version     uint32
	TermCount   uint32
	DocCount    uint32
	DictOffset  int64
	DictSize    int64
	PostOffset  int64
	PostSize    int64
	Generation  uint64
	NextOrdinal uint32
}

// SegmentFooter closes the file. Checksum covers every byte between the
// header and the footer.
type SegmentFooter struct {
	Checksum  uint32
	DocCount  uint32
	DocOffset int64
	DocSize   int64
	CreatedAt int64
}

// DictEntry maps a (field, term) key to its compressed postings block.
type DictEntry struct {
	Field      string `json:"f"`
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// FileName returns the segment file name for a generation.
func FileName(generation uint64) string {
	return fmt.Sprintf("gen-%020d.spdx", generation)
}

// Writer serialises snapshots into .spdx segment files.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write creates the segment file of snap's generation. It writes to a .tmp
// file first, syncs, and renames on success, so a segment file either
// exists complete or not at all.
func (w *Writer) Write(snap *index.Snapshot) (string, error) {
	segmentName := FileName(snap.Generation())
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	committed := false
	defer func() {
		f.Close()
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	entries := snap.Entries()
	docs := snap.Documents()
	crc := crc32.NewIEEE()

	headerBytes := make([]byte, HeaderSize)
	if _, err := f.Write(headerBytes); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}
	offset := int64(HeaderSize)
	write := func(what string, data []byte) error {
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("writing %s: %w", what, err)
		}
		crc.Write(data)
		offset += int64(len(data))
		return nil
	}

	docData, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("marshaling documents: %w", err)
	}
	docStart := offset
	if err := write("documents", snappy.Encode(nil, docData)); err != nil {
		return "", err
	}
	docSize := offset - docStart

	postingsStart := offset
	dict := make([]DictEntry, 0, len(entries))
	for _, entry := range entries {
		postingsData, err := json.Marshal(entry.Postings)
		if err != nil {
			return "", fmt.Errorf("marshaling postings for term %s:%q: %w", entry.Field, entry.Term, err)
		}
		block := snappy.Encode(nil, postingsData)
		relativeOffset := offset - postingsStart
		if err := write("postings", block); err != nil {
			return "", err
		}
		dict = append(dict, DictEntry{
			Field:      entry.Field,
			Term:       entry.Term,
			PostOffset: relativeOffset,
			PostLen:    len(block),
			DocFreq:    len(entry.Postings),
		})
	}
	postingsSize := offset - postingsStart

	dictData, err := json.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("marshaling dictionary: %w", err)
	}
	dictStart := offset
	if err := write("dictionary", snappy.Encode(nil, dictData)); err != nil {
		return "", err
	}
	dictSize := offset - dictStart

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], uint32(len(docs)))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(docStart))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(docSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(time.Now().Unix()))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}

	binary.LittleEndian.PutUint32(headerBytes[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(headerBytes[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(headerBytes[8:12], uint32(len(entries)))
	binary.LittleEndian.PutUint32(headerBytes[12:16], uint32(len(docs)))
	binary.LittleEndian.PutUint64(headerBytes[16:24], uint64(dictStart))
	binary.LittleEndian.PutUint64(headerBytes[24:32], uint64(dictSize))
	binary.LittleEndian.PutUint64(headerBytes[32:40], uint64(postingsStart))
	binary.LittleEndian.PutUint64(headerBytes[40:48], uint64(postingsSize))
	binary.LittleEndian.PutUint64(headerBytes[48:56], snap.Generation())
	binary.LittleEndian.PutUint32(headerBytes[56:60], snap.NextOrdinal())
	if _, err := f.WriteAt(headerBytes, 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	committed = true
	return segmentName, nil
}
