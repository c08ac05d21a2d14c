package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"ingestion", &IngestionError{SnippetID: "a", Fields: map[string]string{"text": "required"}}, ErrIngestion},
		{"storage", &StorageFault{Op: "seal", Err: fs.ErrPermission}, ErrStorageFault},
		{"query", &QueryParseError{Query: `"x`, Pos: 0, Reason: "unbalanced quote"}, ErrQueryParse},
		{"corrupt", &CorruptSegmentError{SegmentID: 3, Reason: "checksum mismatch"}, ErrCorruptSegment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
		})
	}
}

func TestStorageFaultKeepsCause(t *testing.T) {
	err := Fault("write segment", "/data/seg-1.snip", fs.ErrPermission)
	assert.ErrorIs(t, err, ErrStorageFault)
	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.True(t, IsRetryable(err))

	again := Fault("outer", "", err)
	var sf *StorageFault
	require.True(t, errors.As(again, &sf))
	assert.Equal(t, "write segment", sf.Op)
	assert.Nil(t, Fault("noop", "", nil))
}

func TestIngestionErrorMessageIsStable(t *testing.T) {
	err := &IngestionError{SnippetID: "so_1_2", Fields: map[string]string{"text": "required", "id": "missing"}}
	assert.Equal(t, "invalid snippet record so_1_2: id: missing; text: required", err.Error())
}

func TestHTTPStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatusCode(&QueryParseError{Pos: -1}))
	assert.Equal(t, http.StatusBadRequest, HTTPStatusCode(&IngestionError{}))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusCode(Fault("x", "", fs.ErrClosed)))
	assert.Equal(t, http.StatusNotFound, HTTPStatusCode(fmt.Errorf("remove: %w", ErrNotFound)))
	assert.Equal(t, http.StatusTeapot, HTTPStatusCode(New(ErrInvalidInput, http.StatusTeapot, "x")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusCode(errors.New("boom")))
}
