package ontraport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// Object type codes assigned by the remote API.
const (
	contactTypeCode = 0
	tagTypeCode     = 14
	productTypeCode = 16
)

// Kind binds an entity type to the fields the find-or-create algorithm
// needs. All kind-specific knowledge lives here; the algorithm itself is
// singular.
type Kind struct {
	Name          string
	TypeCode      int
	KeyField      string // natural key used for lookup and matching
	LookupIDField string // identifier field on lookup results
}

var (
	KindContact = Kind{Name: "contact", TypeCode: contactTypeCode, KeyField: "email", LookupIDField: "id"}
	KindTag     = Kind{Name: "tag", TypeCode: tagTypeCode, KeyField: "tag_name", LookupIDField: "tag_id"}
	KindProduct = Kind{Name: "product", TypeCode: productTypeCode, KeyField: "name", LookupIDField: "id"}
)

// Resolve maps a natural key to a stable remote identifier: it reuses an
// existing record whose key matches exactly, and creates one from attrs
// otherwise. Resolves for the same (kind, key) pair are serialized so two
// concurrent callers cannot both observe "no match" and create duplicates.
//
// A lookup failure aborts the resolve; it is never read as "no match".
func (c *Client) Resolve(ctx context.Context, kind Kind, key string, attrs url.Values) (int64, error) {
	unlock := c.locks.lock(strconv.Itoa(kind.TypeCode) + "\x00" + key)
	defer unlock()

	id, found, err := c.Find(ctx, kind, key)
	if err != nil {
		return 0, fmt.Errorf("looking up %s %q: %w", kind.Name, key, err)
	}
	if found {
		return id, nil
	}

	id, err = c.createObject(ctx, kind, attrs)
	if err != nil {
		return 0, fmt.Errorf("creating %s %q: %w", kind.Name, key, err)
	}
	return id, nil
}

// Find queries the objects collection by natural key and returns the
// identifier of the first record whose key field equals key exactly.
// Non-matching records in the result set are ignored.
func (c *Client) Find(ctx context.Context, kind Kind, key string) (int64, bool, error) {
	params := url.Values{}
	params.Set("objectID", strconv.Itoa(kind.TypeCode))
	params.Set("condition", buildCondition(kind.KeyField, key))

	env, err := c.Request(ctx, http.MethodGet, "objects", params)
	if err != nil {
		return 0, false, err
	}

	records, ok := env.Records()
	if !ok {
		// Absent or non-array data is the API's way of saying nothing matched.
		return 0, false, nil
	}

	for _, rec := range records {
		if rec.String(kind.KeyField) != key {
			continue
		}
		id, ok := rec.Int64(kind.LookupIDField)
		if !ok {
			return 0, false, fmt.Errorf("%w: matched record has no %s", ErrMalformedResult, kind.LookupIDField)
		}
		return id, true, nil
	}
	return 0, false, nil
}

func (c *Client) createObject(ctx context.Context, kind Kind, attrs url.Values) (int64, error) {
	params := url.Values{}
	for k, vs := range attrs {
		params[k] = vs
	}
	params.Set("objectID", strconv.Itoa(kind.TypeCode))

	env, err := c.Request(ctx, http.MethodPost, "objects", params)
	if err != nil {
		return 0, err
	}

	obj, ok := env.Object()
	if !ok {
		return 0, fmt.Errorf("%w: create returned no object", ErrMalformedResult)
	}
	id, ok := obj.Int64("id")
	if !ok {
		return 0, fmt.Errorf("%w: created object has no id", ErrMalformedResult)
	}
	return id, nil
}

// buildCondition renders the field='value' equality filter for an objects
// query. The value is escaped so embedded quotes cannot alter the filter.
func buildCondition(field, value string) string {
	return field + "='" + conditionEscaper.Replace(value) + "'"
}

var conditionEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// keyedMutex serializes critical sections per string key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (km *keyedMutex) lock(key string) (unlock func()) {
	km.mu.Lock()
	entry, ok := km.locks[key]
	if !ok {
		entry = &keyedLock{}
		km.locks[key] = entry
	}
	entry.refs++
	km.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		km.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}
