// Package segment reads and writes sealed segment files and the manifest
// that lists them.
//
// A segment file is laid out as
//
//	header    64 bytes
//	documents JSON-encoded index.Document values, back to back
//	doc table 24 bytes per document: doc id, offset, byte length, doc length
//	postings  per term: uvarint count, then per posting uvarint ord delta,
//	          uvarint frequency and that many uvarint position deltas
//	dict      JSON array of DictEntry sorted by term
//	footer    16 bytes: body length and completion marker
//
// All integers are little endian. The header carries a CRC-32C of the body
// (everything between header and footer) and a CRC-32C of itself. Files are
// written under a .tmp name and renamed only once complete, so a file with a
// valid marker and checksums is whole.
package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
)

const (
	MagicBytes      uint32 = 0x50494e53 // "SNIP"
	FormatVersion   uint16 = 1
	HeaderSize             = 64
	FooterSize             = 16
	docTableEntry          = 24
	completionMagic uint64 = 0x454e4f4450494e53 // "SNIPDONE"

	fileExt   = ".snip"
	tmpSuffix = ".tmp"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Header is the fixed-size file header.
type Header struct {
	Magic      uint32
	Version    uint16
	SegmentID  uint64
	DocCount   uint32
	TermCount  uint32
	MinDocID   uint64
	MaxDocID   uint64
	PostOffset int64
	DictOffset int64
	BodyCRC    uint32
}

func (h Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], h.SegmentID)
	binary.LittleEndian.PutUint32(buf[16:20], h.DocCount)
	binary.LittleEndian.PutUint32(buf[20:24], h.TermCount)
	binary.LittleEndian.PutUint64(buf[24:32], h.MinDocID)
	binary.LittleEndian.PutUint64(buf[32:40], h.MaxDocID)
	binary.LittleEndian.PutUint64(buf[40:48], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(buf[48:56], uint64(h.DictOffset))
	binary.LittleEndian.PutUint32(buf[56:60], h.BodyCRC)
	binary.LittleEndian.PutUint32(buf[60:64], crc32.Checksum(buf[0:60], castagnoli))
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("short header")
	}
	h := Header{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		Version:    binary.LittleEndian.Uint16(buf[4:6]),
		SegmentID:  binary.LittleEndian.Uint64(buf[8:16]),
		DocCount:   binary.LittleEndian.Uint32(buf[16:20]),
		TermCount:  binary.LittleEndian.Uint32(buf[20:24]),
		MinDocID:   binary.LittleEndian.Uint64(buf[24:32]),
		MaxDocID:   binary.LittleEndian.Uint64(buf[32:40]),
		PostOffset: int64(binary.LittleEndian.Uint64(buf[40:48])),
		DictOffset: int64(binary.LittleEndian.Uint64(buf[48:56])),
		BodyCRC:    binary.LittleEndian.Uint32(buf[56:60]),
	}
	if h.Magic != MagicBytes {
		return h, fmt.Errorf("bad magic bytes %x", h.Magic)
	}
	if got := crc32.Checksum(buf[0:60], castagnoli); got != binary.LittleEndian.Uint32(buf[60:64]) {
		return h, fmt.Errorf("header checksum mismatch")
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("unsupported format version %d", h.Version)
	}
	return h, nil
}

func encodeFooter(bodyLen int64) []byte {
	buf := make([]byte, FooterSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(bodyLen))
	binary.LittleEndian.PutUint64(buf[8:16], completionMagic)
	return buf
}

// DictEntry maps a term to its postings offset (relative to the postings
// section), encoded length and document frequency.
type DictEntry struct {
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// FileName is the on-disk name of segment id.
func FileName(id uint64) string {
	return fmt.Sprintf("seg-%06d%s", id, fileExt)
}

func Path(dir string, id uint64) string {
	return filepath.Join(dir, FileName(id))
}

// ParseFileName extracts the segment id from a sealed segment file name.
func ParseFileName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "seg-") || !strings.HasSuffix(name, fileExt) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "seg-"), fileExt), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func appendPostings(buf []byte, pl index.PostingList) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(pl)))
	var prevOrd uint32
	for i, p := range pl {
		delta := p.Ord
		if i > 0 {
			delta = p.Ord - prevOrd
		}
		prevOrd = p.Ord
		buf = binary.AppendUvarint(buf, uint64(delta))
		buf = binary.AppendUvarint(buf, uint64(len(p.Positions)))
		prevPos := 0
		for _, pos := range p.Positions {
			buf = binary.AppendUvarint(buf, uint64(pos-prevPos))
			prevPos = pos
		}
	}
	return buf
}

var errTruncatedPostings = errors.New("truncated postings")

func decodePostings(buf []byte) (index.PostingList, error) {
	next := func() (uint64, error) {
		v, n := binary.Uvarint(buf)
		if n <= 0 {
			return 0, errTruncatedPostings
		}
		buf = buf[n:]
		return v, nil
	}
	count, err := next()
	if err != nil {
		return nil, err
	}
	if count > uint64(len(buf)) {
		return nil, errTruncatedPostings
	}
	pl := make(index.PostingList, 0, count)
	var ord uint32
	for i := uint64(0); i < count; i++ {
		delta, err := next()
		if err != nil {
			return nil, err
		}
		if i == 0 {
			ord = uint32(delta)
		} else {
			ord += uint32(delta)
		}
		freq, err := next()
		if err != nil {
			return nil, err
		}
		if freq > uint64(len(buf)) {
			return nil, errTruncatedPostings
		}
		positions := make([]int, freq)
		pos := 0
		for j := range positions {
			d, err := next()
			if err != nil {
				return nil, err
			}
			pos += int(d)
			positions[j] = pos
		}
		pl = append(pl, index.Posting{Ord: ord, Frequency: int(freq), Positions: positions})
	}
	return pl, nil
}
