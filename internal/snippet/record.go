// Package snippet defines the normalized snippet record accepted by the index
// and the rules that make its identity deterministic.
package snippet

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/analysis"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

type SourceKind string

const (
	SourceStackOverflow SourceKind = "stackoverflow"
	SourceGist          SourceKind = "gist"
	SourceDoc           SourceKind = "doc"
	SourceOther         SourceKind = "other"
)

var sourceKinds = map[string]SourceKind{
	"stackoverflow":  SourceStackOverflow,
	"stack_overflow": SourceStackOverflow,
	"so":             SourceStackOverflow,
	"gist":           SourceGist,
	"github_gist":    SourceGist,
	"doc":            SourceDoc,
	"docs":           SourceDoc,
	"documentation":  SourceDoc,
	"other":          SourceOther,
}

// ParseSourceKind accepts the canonical names plus a few common spellings.
func ParseSourceKind(s string) (SourceKind, error) {
	k, ok := sourceKinds[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown source kind %q", s)
	}
	return k, nil
}

// Record is one snippet as delivered by the Normalizer.
type Record struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	Language   string     `json:"language,omitempty"`
	SourceKind SourceKind `json:"source_kind,omitempty"`
	SourceURL  string     `json:"source_url,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Score      float64    `json:"score"`
	FetchedAt  time.Time  `json:"fetched_at"`
}

const idHexLen = 32

// DeriveID returns the content-derived id of (sourceURL, text). Identical
// inputs always produce the same id.
func DeriveID(sourceURL, text string) string {
	h := sha256.New()
	h.Write([]byte(sourceURL))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))[:idHexLen]
}

// ContentKey is the identity used for idempotent ingestion. Two records with
// the same source and text are the same snippet whatever id they carry.
func ContentKey(r Record) string {
	return DeriveID(r.SourceURL, r.Text)
}

// Normalize returns a copy with canonical language, source kind and tags. An
// empty id is replaced by the derived one.
func Normalize(r Record) Record {
	r.ID = strings.TrimSpace(r.ID)
	r.SourceURL = strings.TrimSpace(r.SourceURL)
	r.Language = analysis.Canonical(r.Language)
	if k, err := ParseSourceKind(string(r.SourceKind)); err == nil {
		r.SourceKind = k
	} else if r.SourceKind == "" {
		r.SourceKind = SourceOther
	}
	r.Tags = normalizeTags(r.Tags)
	if r.ID == "" && r.Text != "" {
		r.ID = DeriveID(r.SourceURL, r.Text)
	}
	if !r.FetchedAt.IsZero() {
		r.FetchedAt = r.FetchedAt.UTC()
	}
	return r
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Validate reports every problem with a normalized record as one
// IngestionError. maxTextBytes <= 0 disables the size check.
func Validate(r Record, maxTextBytes int) error {
	fields := make(map[string]string)
	if strings.TrimSpace(r.Text) == "" {
		fields["text"] = "is required"
	} else if maxTextBytes > 0 && len(r.Text) > maxTextBytes {
		fields["text"] = fmt.Sprintf("exceeds %d bytes", maxTextBytes)
	}
	if r.ID == "" {
		fields["id"] = "is required"
	} else if !utf8.ValidString(r.ID) || len(r.ID) > 512 {
		fields["id"] = "must be valid UTF-8 of at most 512 bytes"
	}
	if _, ok := sourceKinds[string(r.SourceKind)]; !ok {
		fields["source_kind"] = fmt.Sprintf("unknown value %q", r.SourceKind)
	}
	if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
		fields["score"] = "must be a finite number"
	}
	if !r.FetchedAt.IsZero() && r.FetchedAt.After(time.Now().Add(24*time.Hour)) {
		fields["fetched_at"] = "is in the future"
	}
	if len(fields) == 0 {
		return nil
	}
	return &apperrors.IngestionError{SnippetID: r.ID, Fields: fields}
}
