package segment

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

// Writer creates segment files in one directory. A nil limiter writes at
// full speed; compaction passes one to bound its disk bandwidth.
type Writer struct {
	dataDir string
	limiter *rate.Limiter
	noSync  bool
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string, noSync bool) *Writer {
	return &Writer{dataDir: dataDir, noSync: noSync}
}

// Throttled returns a copy of w limited to bytesPerSec. Zero or negative
// means unlimited.
func (w *Writer) Throttled(bytesPerSec int64) *Writer {
	c := *w
	if bytesPerSec > 0 {
		burst := int(min(bytesPerSec, 1<<20))
		c.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	}
	return &c
}

// Builder streams one segment to disk. Documents are added first in DocID
// order, then terms in ascending order, then Finish publishes the file.
// Abort discards a partial file.
type Builder struct {
	ctx       context.Context
	w         *Writer
	id        uint64
	finalPath string
	tmpPath   string
	f         *os.File
	crc       hash.Hash32
	buf       *bufio.Writer
	off       int64

	docTable  []byte
	docCount  uint32
	minDocID  uint64
	maxDocID  uint64
	postStart int64
	dict      []DictEntry
	scratch   []byte
	lastTerm  string
	finished  bool
}

// Create starts segment id. ctx bounds throttled writes.
func (w *Writer) Create(ctx context.Context, id uint64) (*Builder, error) {
	finalPath := Path(w.dataDir, id)
	tmpPath := finalPath + tmpSuffix
	if err := os.MkdirAll(w.dataDir, 0o755); err != nil {
		return nil, apperrors.Fault("create segment directory", w.dataDir, err)
	}
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, apperrors.Fault("create segment", tmpPath, err)
	}
	b := &Builder{
		ctx:       ctx,
		w:         w,
		id:        id,
		finalPath: finalPath,
		tmpPath:   tmpPath,
		f:         f,
		crc:       crc32.New(castagnoli),
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		b.Abort()
		return nil, apperrors.Fault("write segment header", tmpPath, err)
	}
	b.off = HeaderSize
	b.buf = bufio.NewWriterSize(&throttledWriter{ctx: ctx, w: io.MultiWriter(f, b.crc), limiter: w.limiter}, 64<<10)
	return b, nil
}

func (b *Builder) write(p []byte) error {
	n, err := b.buf.Write(p)
	b.off += int64(n)
	if err != nil {
		return apperrors.Fault("write segment", b.tmpPath, err)
	}
	return nil
}

// AddDocument appends doc and returns its ordinal.
func (b *Builder) AddDocument(doc *index.Document) (uint32, error) {
	if b.postStart != 0 {
		return 0, fmt.Errorf("segment %d: document added after terms", b.id)
	}
	if b.docCount > 0 && doc.DocID <= b.maxDocID {
		return 0, fmt.Errorf("segment %d: doc id %d out of order", b.id, doc.DocID)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("marshaling document %d: %w", doc.DocID, err)
	}
	start := b.off
	if err := b.write(data); err != nil {
		return 0, err
	}
	var entry [docTableEntry]byte
	binary.LittleEndian.PutUint64(entry[0:8], doc.DocID)
	binary.LittleEndian.PutUint64(entry[8:16], uint64(start))
	binary.LittleEndian.PutUint32(entry[16:20], uint32(len(data)))
	binary.LittleEndian.PutUint32(entry[20:24], uint32(doc.Length))
	b.docTable = append(b.docTable, entry[:]...)
	if b.docCount == 0 {
		b.minDocID = doc.DocID
	}
	b.maxDocID = doc.DocID
	ord := b.docCount
	b.docCount++
	return ord, nil
}

func (b *Builder) startPostings() error {
	if b.postStart != 0 {
		return nil
	}
	if err := b.write(b.docTable); err != nil {
		return err
	}
	b.docTable = nil
	b.postStart = b.off
	return nil
}

// AddTerm appends a term's postings. Terms must arrive in ascending order
// and ordinals must refer to documents already added.
func (b *Builder) AddTerm(term string, pl index.PostingList) error {
	if len(pl) == 0 {
		return nil
	}
	if err := b.startPostings(); err != nil {
		return err
	}
	if len(b.dict) > 0 && term <= b.lastTerm {
		return fmt.Errorf("segment %d: term %q out of order", b.id, term)
	}
	if last := pl[len(pl)-1].Ord; last >= b.docCount {
		return fmt.Errorf("segment %d: term %q references ordinal %d of %d", b.id, term, last, b.docCount)
	}
	b.scratch = appendPostings(b.scratch[:0], pl)
	offset := b.off - b.postStart
	if err := b.write(b.scratch); err != nil {
		return err
	}
	b.dict = append(b.dict, DictEntry{
		Term:       term,
		PostOffset: offset,
		PostLen:    len(b.scratch),
		DocFreq:    len(pl),
	})
	b.lastTerm = term
	return nil
}

// Docs is the number of documents added so far.
func (b *Builder) Docs() uint32 {
	return b.docCount
}

// Finish writes the dictionary, footer and header, syncs and atomically
// renames the file into place. It returns the final path.
func (b *Builder) Finish() (string, error) {
	if err := b.startPostings(); err != nil {
		b.Abort()
		return "", err
	}
	dictOffset := b.off
	dictData, err := json.Marshal(b.dict)
	if err != nil {
		b.Abort()
		return "", fmt.Errorf("marshaling dictionary: %w", err)
	}
	if err := b.write(dictData); err != nil {
		b.Abort()
		return "", err
	}
	if err := b.buf.Flush(); err != nil {
		b.Abort()
		return "", apperrors.Fault("write segment", b.tmpPath, err)
	}
	if _, err := b.f.Write(encodeFooter(b.off - HeaderSize)); err != nil {
		b.Abort()
		return "", apperrors.Fault("write segment footer", b.tmpPath, err)
	}
	header := Header{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		SegmentID:  b.id,
		DocCount:   b.docCount,
		TermCount:  uint32(len(b.dict)),
		MinDocID:   b.minDocID,
		MaxDocID:   b.maxDocID,
		PostOffset: b.postStart,
		DictOffset: dictOffset,
		BodyCRC:    b.crc.Sum32(),
	}
	if _, err := b.f.WriteAt(header.encode(), 0); err != nil {
		b.Abort()
		return "", apperrors.Fault("update segment header", b.tmpPath, err)
	}
	if !b.w.noSync {
		if err := b.f.Sync(); err != nil {
			b.Abort()
			return "", apperrors.Fault("sync segment", b.tmpPath, err)
		}
	}
	if err := b.f.Close(); err != nil {
		b.f = nil
		b.Abort()
		return "", apperrors.Fault("close segment", b.tmpPath, err)
	}
	b.f = nil
	if err := os.Rename(b.tmpPath, b.finalPath); err != nil {
		b.Abort()
		return "", apperrors.Fault("rename segment", b.finalPath, err)
	}
	b.finished = true
	if !b.w.noSync {
		if err := syncDir(filepath.Dir(b.finalPath)); err != nil {
			return "", apperrors.Fault("sync segment directory", b.w.dataDir, err)
		}
	}
	return b.finalPath, nil
}

// Abort closes and removes the temporary file. It is a no-op after a
// successful Finish.
func (b *Builder) Abort() {
	if b.finished {
		return
	}
	if b.f != nil {
		_ = b.f.Close()
		b.f = nil
	}
	_ = os.Remove(b.tmpPath)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// throttledWriter spends limiter tokens before each chunk it passes on.
type throttledWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

func (t *throttledWriter) Write(p []byte) (int, error) {
	if t.limiter == nil {
		return t.w.Write(p)
	}
	written := 0
	for written < len(p) {
		chunk := min(len(p)-written, t.limiter.Burst())
		if err := t.limiter.WaitN(t.ctx, chunk); err != nil {
			return written, err
		}
		n, err := t.w.Write(p[written : written+chunk])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// WriteActive seals the documents and postings of an active segment.
func (w *Writer) WriteActive(ctx context.Context, id uint64, docs []*index.Document, entries []index.TermEntry) (string, error) {
	b, err := w.Create(ctx, id)
	if err != nil {
		return "", err
	}
	for _, d := range docs {
		if _, err := b.AddDocument(d); err != nil {
			b.Abort()
			return "", err
		}
	}
	for _, e := range entries {
		if err := b.AddTerm(e.Term, e.Postings); err != nil {
			b.Abort()
			return "", err
		}
	}
	return b.Finish()
}
