package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// DoJSON serves one request against h. A non-nil body is encoded as JSON.
func DoJSON(t *testing.T, h http.Handler, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		r = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// Decode unmarshals a recorded response body into v.
func Decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}
