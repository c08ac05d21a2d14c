// Package normalize turns raw scraper output into snippet records. It is the
// boundary between the StackOverflow and Gist scrapers and the index: code
// too short to be useful is dropped here, and a language is inferred for
// records that do not declare one.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

// MinCodeLength is the shortest code block worth indexing, in characters.
const MinCodeLength = 20

type Kind string

const (
	KindStackOverflow Kind = "stackoverflow"
	KindGist          Kind = "gist"
)

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stackoverflow", "so", "stack_overflow":
		return KindStackOverflow, nil
	case "gist", "github_gist":
		return KindGist, nil
	default:
		return "", fmt.Errorf("%w: unknown scraper kind %q", apperrors.ErrInvalidInput, s)
	}
}

// SORecord is one code block scraped from a StackOverflow answer.
type SORecord struct {
	SnippetID     string    `json:"snippet_id"`
	QuestionID    int64     `json:"question_id"`
	QuestionTitle string    `json:"question_title"`
	AnswerID      int64     `json:"answer_id"`
	Code          string    `json:"code"`
	Language      string    `json:"language"`
	Votes         int       `json:"votes"`
	URL           string    `json:"url"`
	Tags          []string  `json:"tags"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

// GistRecord is the first file of a public GitHub gist.
type GistRecord struct {
	GistID      string    `json:"gist_id"`
	Description string    `json:"description"`
	Filename    string    `json:"filename"`
	Language    string    `json:"language"`
	Code        string    `json:"code"`
	RawURL      string    `json:"raw_url"`
	HTMLURL     string    `json:"html_url"`
	Author      string    `json:"author"`
	CreatedAt   string    `json:"created_at"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

func FromStackOverflow(r SORecord) (snippet.Record, error) {
	id := strings.TrimSpace(r.SnippetID)
	if id == "" && r.QuestionID > 0 {
		id = "so_" + strconv.FormatInt(r.QuestionID, 10)
		if r.AnswerID > 0 {
			id += "_" + strconv.FormatInt(r.AnswerID, 10)
		}
	}
	code := strings.TrimSpace(r.Code)
	if err := checkCode(id, code); err != nil {
		return snippet.Record{}, err
	}
	url := strings.TrimSpace(r.URL)
	if url == "" && r.QuestionID > 0 {
		url = fmt.Sprintf("https://stackoverflow.com/questions/%d", r.QuestionID)
		if r.AnswerID > 0 {
			url += fmt.Sprintf("#answer-%d", r.AnswerID)
		}
	}
	return snippet.Normalize(snippet.Record{
		ID:         id,
		Text:       code,
		Language:   DetectLanguage(code, Hints{Tags: r.Tags, Declared: r.Language}),
		SourceKind: snippet.SourceStackOverflow,
		SourceURL:  url,
		Tags:       r.Tags,
		Score:      float64(max(r.Votes, 0)),
		FetchedAt:  r.ScrapedAt,
	}), nil
}

func FromGist(r GistRecord) (snippet.Record, error) {
	id := ""
	if gid := strings.TrimSpace(r.GistID); gid != "" {
		id = "gist_" + gid
	}
	code := strings.TrimSpace(r.Code)
	if err := checkCode(id, code); err != nil {
		return snippet.Record{}, err
	}
	fetched := r.ScrapedAt
	if fetched.IsZero() {
		if t, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
			fetched = t
		}
	}
	url := strings.TrimSpace(r.HTMLURL)
	if url == "" {
		url = strings.TrimSpace(r.RawURL)
	}
	return snippet.Normalize(snippet.Record{
		ID:         id,
		Text:       code,
		Language:   DetectLanguage(code, Hints{Declared: r.Language, Filename: r.Filename}),
		SourceKind: snippet.SourceGist,
		SourceURL:  url,
		FetchedAt:  fetched,
	}), nil
}

func checkCode(id, code string) error {
	if n := len([]rune(code)); n < MinCodeLength {
		return &apperrors.IngestionError{
			SnippetID: id,
			Fields:    map[string]string{"code": fmt.Sprintf("%d characters, need at least %d", n, MinCodeLength)},
		}
	}
	return nil
}

// Convert decodes a scraper dump, a JSON array or a single object, and
// normalizes every entry. Entries that fail are returned in rejected by
// their position in the dump.
func Convert(kind Kind, data []byte) (recs []snippet.Record, rejected map[int]error, err error) {
	rejected = make(map[int]error)
	switch kind {
	case KindStackOverflow:
		raw, err := decodeDump[SORecord](data)
		if err != nil {
			return nil, nil, err
		}
		for i, r := range raw {
			rec, err := FromStackOverflow(r)
			if err != nil {
				rejected[i] = err
				continue
			}
			recs = append(recs, rec)
		}
	case KindGist:
		raw, err := decodeDump[GistRecord](data)
		if err != nil {
			return nil, nil, err
		}
		for i, r := range raw {
			rec, err := FromGist(r)
			if err != nil {
				rejected[i] = err
				continue
			}
			recs = append(recs, rec)
		}
	default:
		return nil, nil, fmt.Errorf("%w: unknown scraper kind %q", apperrors.ErrInvalidInput, kind)
	}
	return recs, rejected, nil
}

func decodeDump[T any](data []byte) ([]T, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var out []T
		if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
			return nil, fmt.Errorf("%w: decoding scraper dump: %v", apperrors.ErrInvalidInput, err)
		}
		return out, nil
	}
	var one T
	if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
		return nil, fmt.Errorf("%w: decoding scraper record: %v", apperrors.ErrInvalidInput, err)
	}
	return []T{one}, nil
}
