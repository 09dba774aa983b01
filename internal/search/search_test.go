package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/muebleria/internal/models"
)

// fakeES answers the handful of endpoints the client uses.
type fakeES struct {
	mu       sync.Mutex
	docs     map[string]json.RawMessage
	lastBody map[string]any
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/":
		_, _ = io.WriteString(w, `{"version":{"number":"9.0.0"},"tagline":"You Know, for Search"}`)

	case len(parts) == 3 && parts[1] == "_doc" && r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.docs[parts[2]] = body
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result":"created"}`)

	case len(parts) == 3 && parts[1] == "_doc" && r.Method == http.MethodDelete:
		if _, ok := f.docs[parts[2]]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"result":"not_found"}`)
			return
		}
		delete(f.docs, parts[2])
		_, _ = io.WriteString(w, `{"result":"deleted"}`)

	case len(parts) == 2 && parts[1] == "_search":
		f.lastBody = map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		hits := make([]map[string]json.RawMessage, 0, len(f.docs))
		for _, d := range f.docs {
			hits = append(hits, map[string]json.RawMessage{"_source": d})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"hits": map[string]any{"total": map[string]any{"value": len(hits)}, "hits": hits},
		})

	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"unexpected"}`)
	}
}

func newTestClient(t *testing.T) (*Client, *fakeES) {
	t.Helper()
	fake := &fakeES{docs: map[string]json.RawMessage{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), srv.URL, "", "", "muebles")
	require.NoError(t, err)
	return c, fake
}

func TestClient_IndexSearchRemove(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	p := &models.Product{
		ID:       uuid.New(),
		Name:     "Rack TV Roble",
		Category: "living",
		Price:    decimal.RequireFromString("99990"),
		Stock:    3,
	}
	require.NoError(t, c.IndexProduct(ctx, p))

	total, items, err := c.Search(ctx, "roble", 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, p.ID, items[0].ID)
	assert.Equal(t, "Rack TV Roble", items[0].Name)
	assert.True(t, p.Price.Equal(items[0].Price))

	mm := fake.lastBody["query"].(map[string]any)["multi_match"].(map[string]any)
	assert.Equal(t, "roble", mm["query"])
	assert.EqualValues(t, 10, fake.lastBody["size"])

	require.NoError(t, c.RemoveProduct(ctx, p.ID))
	require.NoError(t, c.RemoveProduct(ctx, p.ID))

	total, _, err = c.Search(ctx, "roble", 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestNewClient_DefaultIndex(t *testing.T) {
	srv := httptest.NewServer(&fakeES{docs: map[string]json.RawMessage{}})
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), srv.URL, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultIndex, c.Index)
}
