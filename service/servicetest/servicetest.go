// Package servicetest holds request helpers shared by the handler tests.
package servicetest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/KAsare1/Fintrack-server/cmd/utils"
	"github.com/gorilla/mux"
)

// Routes is implemented by every resource handler.
type Routes interface {
	RegisterRoutes(router *mux.Router)
}

// Router mounts the handlers on a fresh router.
func Router(handlers ...Routes) *mux.Router {
	router := mux.NewRouter()
	for _, h := range handlers {
		h.RegisterRoutes(router)
	}
	return router
}

// Do serves one request as userID (0 means anonymous). body may be nil, a
// string, an io.Reader or any value to encode as JSON.
func Do(t testing.TB, h http.Handler, method, path string, userID uint, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	case io.Reader:
		reader = b
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("encode request body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req = req.WithContext(utils.WithUserID(req.Context(), userID))
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// Expect fails the test unless the recorder holds the wanted status.
func Expect(t testing.TB, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rr.Code, want, rr.Body.String())
	}
}

// Decode unmarshals the response body.
func Decode(t testing.TB, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}
