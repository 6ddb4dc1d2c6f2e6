package ontraport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
)

// apiCall is one request captured by the fake API.
type apiCall struct {
	Method string
	Path   string
	Params url.Values
}

// fakeAPI emulates the remote objects store: lookups return every record of
// the requested type (exact matching is the client's job), creates assign
// sequential ids, and mutating workflow calls are captured for inspection.
type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	objects map[int][]map[string]any
	nextID  int64
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		objects: make(map[int][]map[string]any),
		nextID:  1000,
	}
}

// seed adds a pre-existing remote record of the given type.
func (f *fakeAPI) seed(typeCode int, record map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[typeCode] = append(f.objects[typeCode], record)
}

func (f *fakeAPI) recordedCalls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

// callsTo returns captured calls matching method and path.
func (f *fakeAPI) callsTo(method, path string) []apiCall {
	var out []apiCall
	for _, c := range f.recordedCalls() {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Api-Appid") == "" || r.Header.Get("Api-Key") == "" {
			http.Error(w, `{"code":104}`, http.StatusUnauthorized)
			return
		}

		_ = r.ParseForm()

		f.mu.Lock()
		f.calls = append(f.calls, apiCall{Method: r.Method, Path: r.URL.Path, Params: cloneValues(r.Form)})
		f.mu.Unlock()

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/objects":
			f.handleLookup(w, r)
		case r.Method == http.MethodPost && r.URL.Path == "/objects":
			f.handleCreate(w, r)
		case r.Method == http.MethodPost && r.URL.Path == "/transaction/processManual":
			writeJSON(w, map[string]any{"data": map[string]any{"result": "success"}, "code": 0, "uri": "/transaction/processManual"})
		case r.Method == http.MethodPut && r.URL.Path == "/objects/tag":
			writeJSON(w, map[string]any{"data": []any{}, "code": 0, "uri": "/objects/tag"})
		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeAPI) handleLookup(w http.ResponseWriter, r *http.Request) {
	typeCode, _ := strconv.Atoi(r.Form.Get("objectID"))

	f.mu.Lock()
	records := append([]map[string]any(nil), f.objects[typeCode]...)
	f.mu.Unlock()

	data := make([]any, 0, len(records))
	for _, rec := range records {
		data = append(data, rec)
	}
	writeJSON(w, map[string]any{"data": data, "code": 0, "uri": "/objects"})
}

func (f *fakeAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	typeCode, _ := strconv.Atoi(r.Form.Get("objectID"))

	f.mu.Lock()
	f.nextID++
	id := f.nextID

	record := map[string]any{}
	for k := range r.Form {
		if k != "objectID" {
			record[k] = r.Form.Get(k)
		}
	}
	if typeCode == tagTypeCode {
		record["tag_id"] = id
	} else {
		record["id"] = id
	}
	f.objects[typeCode] = append(f.objects[typeCode], record)
	f.mu.Unlock()

	writeJSON(w, map[string]any{"data": map[string]any{"id": id}, "code": 0, "uri": "/objects"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(fmt.Sprintf("encoding fake response: %v", err))
	}
}

func cloneValues(v url.Values) url.Values {
	out := url.Values{}
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// newTestClient wires a client against the given handler with a limiter
// that never throttles the test.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	client, err := NewClient(Config{
		AppID:   "test-app-id",
		APIKey:  "test-api-key",
		BaseURL: ts.URL,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.SetRateLimiter(NewRateLimiterWith(10000, 10000))
	return client
}

// newFakeClient is newTestClient against a fresh fakeAPI.
func newFakeClient(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	api := newFakeAPI()
	return newTestClient(t, api.handler()), api
}
