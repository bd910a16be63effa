package orderstore

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testAPIKey = "test-anon-key"

// fakeStore is an in-memory stand-in for the REST surface of the orders
// table. Rows are kept as raw JSON objects so tests can plant malformed data.
type fakeStore struct {
	t      *testing.T
	mu     sync.Mutex
	rows   []map[string]any
	calls  atomic.Int64
	status int
}

func newFakeStore(t *testing.T) (*fakeStore, *httptest.Server) {
	t.Helper()
	fs := &fakeStore{t: t}
	server := httptest.NewServer(fs)
	t.Cleanup(server.Close)
	return fs, server
}

func (fs *fakeStore) add(rows ...map[string]any) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.rows = append(fs.rows, rows...)
}

func (fs *fakeStore) failWith(status int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.status = status
}

func (fs *fakeStore) row(id string) map[string]any {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, r := range fs.rows {
		if r["id"] == id {
			return r
		}
	}
	return nil
}

func (fs *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fs.calls.Add(1)

	if r.URL.Path != "/rest/v1/orders" {
		writeStoreJSON(w, http.StatusNotFound, map[string]string{"message": "relation does not exist"})
		return
	}
	if r.Header.Get("apikey") != testAPIKey || r.Header.Get("Authorization") != "Bearer "+testAPIKey {
		writeStoreJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid api key"})
		return
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.status != 0 {
		writeStoreJSON(w, fs.status, map[string]string{"code": "XX000", "message": "store unavailable"})
		return
	}

	q := r.URL.Query()
	matched := fs.filter(q)

	switch r.Method {
	case http.MethodGet:
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i]["created_at"].(string) > matched[j]["created_at"].(string)
		})
		if limit := q.Get("limit"); limit != "" {
			n, err := strconv.Atoi(limit)
			if err != nil {
				fs.t.Errorf("bad limit %q", limit)
			}
			if n < len(matched) {
				matched = matched[:n]
			}
		}
		writeStoreJSON(w, http.StatusOK, matched)

	case http.MethodPatch:
		if r.Header.Get("Prefer") != "return=representation" {
			fs.t.Errorf("expected Prefer: return=representation, got %q", r.Header.Get("Prefer"))
		}
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeStoreJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
			return
		}
		for k := range patch {
			if k != "status" && k != "updated_at" {
				fs.t.Errorf("unexpected column in patch: %s", k)
			}
		}
		for _, row := range matched {
			for k, v := range patch {
				row[k] = v
			}
		}
		writeStoreJSON(w, http.StatusOK, matched)

	default:
		writeStoreJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
	}
}

func (fs *fakeStore) filter(q map[string][]string) []map[string]any {
	matched := []map[string]any{}
	for _, row := range fs.rows {
		if matches(row, "id", first(q["id"])) && matches(row, "status", first(q["status"])) {
			matched = append(matched, row)
		}
	}
	return matched
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func matches(row map[string]any, column, expr string) bool {
	if expr == "" {
		return true
	}
	value, _ := row[column].(string)
	switch {
	case strings.HasPrefix(expr, "eq."):
		return value == strings.TrimPrefix(expr, "eq.")
	case strings.HasPrefix(expr, "in.(") && strings.HasSuffix(expr, ")"):
		for _, v := range strings.Split(expr[4:len(expr)-1], ",") {
			if value == v {
				return true
			}
		}
		return false
	}
	return false
}

func writeStoreJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

var baseTime = time.Date(2025, 6, 13, 12, 0, 0, 0, time.UTC)

func orderRow(id, status string, created time.Time) map[string]any {
	ts := created.UTC().Format(time.RFC3339Nano)
	return map[string]any{
		"id":               id,
		"order_number":     "N-" + id,
		"customer_name":    "Customer " + id,
		"customer_phone":   "9000000000",
		"customer_address": "Tower B, 4th floor",
		"items": []any{
			map[string]any{"name": "Margherita", "quantity": 1, "price": 249},
		},
		"subtotal":              249,
		"discount":              0,
		"total":                 249,
		"coupon_code":           nil,
		"delivery_instructions": nil,
		"cooking_instructions":  "less spicy",
		"status":                status,
		"created_at":            ts,
		"updated_at":            ts,
	}
}
