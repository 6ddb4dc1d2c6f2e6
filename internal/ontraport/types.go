package ontraport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Customer carries the checkout billing details used both as the Contact
// lookup key (email) and as the Contact creation attributes.
type Customer struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
}

// Purchase describes a single completed purchase. Consumed once per
// transaction, never stored.
type Purchase struct {
	Product  string  `json:"product"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Total    float64 `json:"total"`
}

// Sentinel errors returned by the request primitive and the resolver.
var (
	// ErrUnsupportedMethod signals a programming error: the caller asked for
	// an HTTP verb the API does not accept.
	ErrUnsupportedMethod = errors.New("ontraport: unsupported request method")

	// ErrDecode signals a 2xx response whose body was not valid JSON.
	ErrDecode = errors.New("ontraport: undecodable response body")

	// ErrMalformedResult signals a response that decoded but is missing the
	// field the operation needs (typically the created object's id).
	ErrMalformedResult = errors.New("ontraport: malformed API result")
)

// APIError is a non-2xx response from the remote API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ontraport: API error %d: %s", e.Status, e.Body)
}

// Envelope is the decoded JSON wrapper the API returns on every call. The
// transport-internal "uri" key is stripped during decoding; everything else
// is preserved in Fields.
type Envelope struct {
	Code   int
	Data   json.RawMessage
	Fields map[string]json.RawMessage
}

func decodeEnvelope(body []byte) (*Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	// "uri" is a transport artifact, not domain data.
	delete(raw, "uri")

	env := &Envelope{Fields: raw}
	if data, ok := raw["data"]; ok {
		env.Data = data
	}
	if code, ok := raw["code"]; ok {
		// A non-integer code is tolerated; Code just stays zero.
		_ = json.Unmarshal(code, &env.Code)
	}
	return env, nil
}

// Records returns the envelope data as a list of objects. The second return
// is false when data is absent, null, or not an array, which the resolver
// reads as "nothing matched".
func (e *Envelope) Records() ([]Record, bool) {
	if e.dataEmpty() {
		return nil, false
	}
	var records []Record
	if err := json.Unmarshal(e.Data, &records); err != nil {
		return nil, false
	}
	return records, true
}

// Object returns the envelope data as a single object, the shape create
// calls respond with.
func (e *Envelope) Object() (Record, bool) {
	if e.dataEmpty() {
		return nil, false
	}
	var record Record
	if err := json.Unmarshal(e.Data, &record); err != nil {
		return nil, false
	}
	return record, true
}

// dataEmpty reports whether the data field is absent or JSON null.
func (e *Envelope) dataEmpty() bool {
	return len(e.Data) == 0 || string(e.Data) == "null"
}

// Record is one loosely-typed object from an API response. The API is not
// consistent about numeric encoding (ids arrive as numbers or strings
// depending on the endpoint), so field access goes through coercing helpers.
type Record map[string]any

// String returns the named field as a string, or "" if absent or not a
// string.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Int64 returns the named field coerced to an integer identifier.
func (r Record) Int64(field string) (int64, bool) {
	switch v := r[field].(type) {
	case float64:
		return int64(v), true
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
	}
	return 0, false
}
