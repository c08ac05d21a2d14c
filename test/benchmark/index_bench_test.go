package benchmark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/config"
)

var topics = []string{"json", "http", "retry", "parse", "config", "socket", "cache", "thread"}

func openIndex(b *testing.B, dedupEnabled bool) *indexer.Manager {
	b.Helper()
	cfg := config.Default()
	cfg.Index.DataDir = b.TempDir()
	cfg.Index.NoSync = true
	cfg.Index.CompactionBytesPerSec = 0
	cfg.Dedup.Enabled = dedupEnabled
	m, err := indexer.Open(cfg.Index, indexer.Options{Dedup: cfg.Dedup, Ingest: cfg.Ingest})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { m.Close() })
	return m
}

func benchRecord(i int) snippet.Record {
	a, c := topics[i%len(topics)], topics[(i+3)%len(topics)]
	return snippet.Record{
		ID:         fmt.Sprintf("snip-%d", i),
		Text:       fmt.Sprintf("def %s_%s_%d(value):\n    # %s helper\n    return handle_%s(value, %d)\n", a, c, i, a, c, i),
		Language:   "python",
		SourceKind: snippet.SourceStackOverflow,
		Tags:       []string{a},
		Score:      float64(i % 50),
		FetchedAt:  time.Unix(1700000000, 0).Add(time.Duration(i) * time.Minute),
	}
}

func seedIndex(b *testing.B, m *indexer.Manager, n int) {
	b.Helper()
	recs := make([]snippet.Record, n)
	for i := range recs {
		recs[i] = benchRecord(i)
	}
	if err := indexer.FirstError(m.IngestBatch(context.Background(), recs)); err != nil {
		b.Fatal(err)
	}
	if err := m.Flush(context.Background()); err != nil {
		b.Fatal(err)
	}
}

func BenchmarkIngest(b *testing.B) {
	for _, withDedup := range []bool{false, true} {
		b.Run(fmt.Sprintf("dedup_%t", withDedup), func(b *testing.B) {
			m := openIndex(b, withDedup)
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := m.Ingest(ctx, benchRecord(i)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkIngestBatch(b *testing.B) {
	m := openIndex(b, true)
	ctx := context.Background()
	const batch = 256
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		recs := make([]snippet.Record, batch)
		for j := range recs {
			recs[j] = benchRecord(i*batch + j)
		}
		if err := indexer.FirstError(m.IngestBatch(ctx, recs)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFlush(b *testing.B) {
	m := openIndex(b, false)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for j := 0; j < 200; j++ {
			if _, err := m.Ingest(ctx, benchRecord(i*200+j)); err != nil {
				b.Fatal(err)
			}
		}
		b.StartTimer()
		if err := m.Flush(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAcquireSnapshot(b *testing.B) {
	m := openIndex(b, false)
	seedIndex(b, m, 1000)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			snap := m.Acquire()
			snap.Release()
		}
	})
}
