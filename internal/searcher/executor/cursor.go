package executor

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

// Cursor is the resume point of a paginated query: the last returned hit
// and the reference time recency was computed against.
type Cursor struct {
	Score float64
	DocID uint64
	AsOf  time.Time
}

type cursorWire struct {
	S uint64 `json:"s"`
	D uint64 `json:"d"`
	T int64  `json:"t"`
}

// Encode renders the cursor as URL-safe base64 JSON.
func (c Cursor) Encode() string {
	data, _ := json.Marshal(cursorWire{S: math.Float64bits(c.Score), D: c.DocID, T: c.AsOf.Unix()})
	return base64.RawURLEncoding.EncodeToString(data)
}

func (c Cursor) position() *ranker.ScoredDoc {
	return &ranker.ScoredDoc{DocID: c.DocID, Score: c.Score}
}

// DecodeCursor parses a cursor produced by Encode. Anything else is a
// QueryParseError.
func DecodeCursor(s string) (Cursor, error) {
	invalid := func(reason string) error {
		return &apperrors.QueryParseError{Query: s, Pos: -1, Reason: "invalid cursor: " + reason}
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, invalid("not base64url")
	}
	var w cursorWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Cursor{}, invalid("malformed payload")
	}
	score := math.Float64frombits(w.S)
	if math.IsNaN(score) || math.IsInf(score, 0) || w.D == 0 || w.T <= 0 {
		return Cursor{}, invalid("out of range")
	}
	return Cursor{Score: score, DocID: w.D, AsOf: time.Unix(w.T, 0).UTC()}, nil
}
