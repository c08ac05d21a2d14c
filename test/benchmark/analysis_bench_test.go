package benchmark

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/dedup"
)

var sampleSnippets = map[string]struct {
	lang string
	code string
}{
	"python": {"python", `import json

def parse_config(path):
    # read the file and decode it
    with open(path) as fh:
        return json.loads(fh.read())
`},
	"go": {"go", `func retry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		time.Sleep(time.Duration(i) * 100 * time.Millisecond)
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}`},
	"unknown": {"", `SELECT id, name FROM users WHERE created_at > NOW() - INTERVAL '1 day' ORDER BY name;`},
	"long": {"javascript", strings.Repeat(`const response = await fetch(url, { method: "POST", body: JSON.stringify(payload) });
if (!response.ok) { throw new Error("request failed: " + response.status); }
`, 50)},
}

func BenchmarkAnalyze(b *testing.B) {
	for name, s := range sampleSnippets {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(s.code)))
			for i := 0; i < b.N; i++ {
				_ = analysis.Analyze(s.code, s.lang)
			}
		})
	}
}

func BenchmarkAnalyzeParallel(b *testing.B) {
	s := sampleSnippets["go"]
	b.ReportAllocs()
	b.SetBytes(int64(len(s.code)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = analysis.Analyze(s.code, s.lang)
		}
	})
}

func BenchmarkSplitIdentifier(b *testing.B) {
	idents := []string{"parseJSONConfig", "HTTPServerError", "snake_case_name", "x", "getUserByID2"}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		for _, id := range idents {
			_ = analysis.SplitIdentifier(id)
		}
	}
}

func BenchmarkFingerprint(b *testing.B) {
	cfg := dedup.DefaultConfig()
	for _, size := range []int{1, 10, 50} {
		code := strings.Repeat(sampleSnippets["go"].code+"\n", size)
		tokens := analysis.Analyze(code, "go")
		b.Run(fmt.Sprintf("copies_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = dedup.Fingerprint(tokens, cfg)
			}
		})
	}
}
