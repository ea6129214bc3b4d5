package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftlabs/meshbond/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhook_PostsJSON(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := notify.NewWebhook(testLogger(), srv.URL)
	w.Critical(context.Background(), "mesh degraded", "all interfaces failed")

	require.Equal(t, "critical", got["level"])
	require.Equal(t, "mesh degraded", got["title"])
	require.Equal(t, "all interfaces failed", got["detail"])
}

func TestWebhook_SwallowsServerErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := notify.NewWebhook(testLogger(), srv.URL)
	// Must not panic or propagate.
	w.Critical(context.Background(), "title", "detail")
}
