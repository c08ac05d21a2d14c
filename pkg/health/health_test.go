package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker()
	c.Register("index", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDegraded, Message: "1 segment quarantined"}
	})
	c.Register("redis", PingCheck(pingerFunc(func(context.Context) error { return nil }), false))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusUp, report.Components["redis"].Status)

	c.Register("postgres", PingCheck(pingerFunc(func(context.Context) error { return errors.New("refused") }), true))
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
}

func TestReadyHandlerServesWhileDegraded(t *testing.T) {
	c := NewChecker()
	c.Register("redis", PingCheck(pingerFunc(func(context.Context) error { return errors.New("timeout") }), false))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusDegraded, report.Status)
}
