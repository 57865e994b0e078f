package email

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, logs *bytes.Buffer) *Handler {
	t.Helper()
	h, err := NewHandler(slog.New(slog.NewJSONHandler(logs, nil)),
		WithLatency(func() time.Duration { return 0 }),
	)
	require.NoError(t, err)
	return h
}

func TestHandler_HandleSend(t *testing.T) {
	t.Run("accepts a valid message", func(t *testing.T) {
		var logs bytes.Buffer
		h := newTestHandler(t, &logs)

		req := httptest.NewRequest(http.MethodPost, "/send",
			strings.NewReader(`{"to":"Buyer <buyer@agency.gov>","subject":"Order Approved: o-1","body":"hi"}`))
		rec := httptest.NewRecorder()
		h.HandleSend(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"sent"}`, rec.Body.String())
		assert.Contains(t, logs.String(), `"to":"buyer@agency.gov"`)
	})

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "malformed", body: `{`, want: "invalid request body"},
		{name: "bad recipient", body: `{"to":"nobody","subject":"x"}`, want: "invalid recipient address"},
		{name: "missing subject", body: `{"to":"a@b.gov","subject":" "}`, want: "subject is required"},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			h := newTestHandler(t, &logs)

			rec := httptest.NewRecorder()
			h.HandleSend(rec, httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"`+tt.want+`"}`, rec.Body.String())
			assert.NotContains(t, logs.String(), "email sent")
		})
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "Low Stock Alert", kind("Low Stock Alert: 2 product(s)"))
	assert.Equal(t, "plain", kind("plain"))
}
