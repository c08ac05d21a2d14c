package segment

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

// Reader serves one sealed segment. It is safe for concurrent use; all file
// access goes through ReadAt.
type Reader struct {
	file     *os.File
	filePath string
	header   Header
	dict     []DictEntry
	docIDs   []uint64
	docOffs  []int64
	docSizes []uint32
	docLens  []uint32
	facets   *index.Facets
}

// OpenReader opens and fully verifies a segment file. Any structural or
// checksum problem yields a *CorruptSegmentError.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &apperrors.CorruptSegmentError{Path: path, Reason: "segment file missing"}
		}
		return nil, apperrors.Fault("open segment", path, err)
	}
	r, err := load(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func load(f *os.File, path string) (*Reader, error) {
	corrupt := func(id uint64, format string, args ...any) error {
		return &apperrors.CorruptSegmentError{SegmentID: id, Path: path, Reason: fmt.Sprintf(format, args...)}
	}
	info, err := f.Stat()
	if err != nil {
		return nil, apperrors.Fault("stat segment", path, err)
	}
	size := info.Size()
	if size < HeaderSize+FooterSize {
		return nil, corrupt(0, "file too short (%d bytes)", size)
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, apperrors.Fault("read segment header", path, err)
	}
	header, err := decodeHeader(headerBytes)
	if err != nil {
		return nil, corrupt(header.SegmentID, "%v", err)
	}
	id := header.SegmentID

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, size-FooterSize); err != nil {
		return nil, apperrors.Fault("read segment footer", path, err)
	}
	if binary.LittleEndian.Uint64(footer[8:16]) != completionMagic {
		return nil, corrupt(id, "missing completion marker")
	}
	bodyLen := size - HeaderSize - FooterSize
	if int64(binary.LittleEndian.Uint64(footer[0:8])) != bodyLen {
		return nil, corrupt(id, "body length mismatch")
	}
	crc := crc32.New(castagnoli)
	if _, err := io.Copy(crc, io.NewSectionReader(f, HeaderSize, bodyLen)); err != nil {
		return nil, apperrors.Fault("read segment body", path, err)
	}
	if crc.Sum32() != header.BodyCRC {
		return nil, corrupt(id, "body checksum mismatch")
	}

	dictEnd := size - FooterSize
	tableLen := int64(header.DocCount) * docTableEntry
	tableStart := header.PostOffset - tableLen
	if tableStart < HeaderSize || header.DictOffset < header.PostOffset || header.DictOffset > dictEnd {
		return nil, corrupt(id, "section offsets out of range")
	}
	table := make([]byte, tableLen)
	if _, err := f.ReadAt(table, tableStart); err != nil {
		return nil, apperrors.Fault("read segment doc table", path, err)
	}
	dictBytes := make([]byte, dictEnd-header.DictOffset)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, apperrors.Fault("read segment dictionary", path, err)
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, corrupt(id, "parsing dictionary: %v", err)
	}
	if len(dict) != int(header.TermCount) {
		return nil, corrupt(id, "dictionary has %d terms, header says %d", len(dict), header.TermCount)
	}

	r := &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
		docIDs:   make([]uint64, header.DocCount),
		docOffs:  make([]int64, header.DocCount),
		docSizes: make([]uint32, header.DocCount),
		docLens:  make([]uint32, header.DocCount),
		facets:   index.NewFacets(),
	}
	for i := range r.docIDs {
		e := table[i*docTableEntry : (i+1)*docTableEntry]
		r.docIDs[i] = binary.LittleEndian.Uint64(e[0:8])
		r.docOffs[i] = int64(binary.LittleEndian.Uint64(e[8:16]))
		r.docSizes[i] = binary.LittleEndian.Uint32(e[16:20])
		r.docLens[i] = binary.LittleEndian.Uint32(e[20:24])
		if i > 0 && r.docIDs[i] <= r.docIDs[i-1] {
			return nil, corrupt(id, "doc ids not ascending at ordinal %d", i)
		}
	}
	for ord := range r.docIDs {
		doc, err := r.Document(uint32(ord))
		if err != nil {
			return nil, corrupt(id, "decoding document %d: %v", ord, err)
		}
		r.facets.Add(uint32(ord), doc)
	}
	return r, nil
}

func (r *Reader) ID() uint64 {
	return r.header.SegmentID
}

func (r *Reader) Header() Header {
	return r.header
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) DocCount() int {
	return len(r.docIDs)
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocID(ord uint32) uint64 {
	return r.docIDs[ord]
}

func (r *Reader) Ord(docID uint64) (uint32, bool) {
	if len(r.docIDs) == 0 || docID < r.header.MinDocID || docID > r.header.MaxDocID {
		return 0, false
	}
	i := sort.Search(len(r.docIDs), func(i int) bool { return r.docIDs[i] >= docID })
	if i < len(r.docIDs) && r.docIDs[i] == docID {
		return uint32(i), true
	}
	return 0, false
}

func (r *Reader) DocLength(ord uint32) int {
	return int(r.docLens[ord])
}

func (r *Reader) Document(ord uint32) (*index.Document, error) {
	if int(ord) >= len(r.docIDs) {
		return nil, fmt.Errorf("ordinal %d out of range in segment %d", ord, r.ID())
	}
	buf := make([]byte, r.docSizes[ord])
	if _, err := r.file.ReadAt(buf, r.docOffs[ord]); err != nil {
		return nil, apperrors.Fault("read document", r.filePath, err)
	}
	var doc index.Document
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, fmt.Errorf("decoding document %d in segment %d: %w", ord, r.ID(), err)
	}
	return &doc, nil
}

func (r *Reader) lookup(term string) (DictEntry, bool) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Term != term {
		return DictEntry{}, false
	}
	return r.dict[idx], true
}

func (r *Reader) Postings(term string) (index.PostingList, error) {
	entry, ok := r.lookup(term)
	if !ok {
		return nil, nil
	}
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, apperrors.Fault("read postings", r.filePath, err)
	}
	postings, err := decodePostings(postingsBytes)
	if err != nil {
		return nil, fmt.Errorf("decoding postings for %q in segment %d: %w", term, r.ID(), err)
	}
	return postings, nil
}

// DocFreq is the number of documents containing term, tombstoned or not.
func (r *Reader) DocFreq(term string) int {
	entry, _ := r.lookup(term)
	return entry.DocFreq
}

func (r *Reader) TermsWithPrefix(prefix string) []string {
	start := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= prefix
	})
	var out []string
	for i := start; i < len(r.dict) && strings.HasPrefix(r.dict[i].Term, prefix); i++ {
		out = append(out, r.dict[i].Term)
	}
	return out
}

// TermList returns the whole dictionary in order, for merging.
func (r *Reader) TermList() []string {
	out := make([]string, len(r.dict))
	for i, e := range r.dict {
		out[i] = e.Term
	}
	return out
}

func (r *Reader) Allowed(f index.Filters) *roaring.Bitmap {
	return r.facets.Allowed(f)
}

// Verify re-reads the file and checks it against its checksums.
func (r *Reader) Verify() error {
	f, err := os.Open(r.filePath)
	if err != nil {
		return apperrors.Fault("open segment", r.filePath, err)
	}
	defer f.Close()
	_, err = load(f, r.filePath)
	return err
}

func (r *Reader) Close() error {
	return r.file.Close()
}

var _ index.SegmentView = (*Reader)(nil)
