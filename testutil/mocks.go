package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockRemoteServer mocks the remote platform's HTTP API for tests of the
// remote package and its callers.
type MockRemoteServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockRemoteServer creates a new mock remote-platform server.
func NewMockRemoteServer(t *testing.T) *MockRemoteServer {
	t.Helper()
	m := &MockRemoteServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockEnvelope adds a handler returning {code, data} on path.
func (m *MockRemoteServer) MockEnvelope(path string, code int, data interface{}) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"code": code,
			"data": data,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockRiskControl adds a handler returning the risk-control status code on
// path.
func (m *MockRemoteServer) MockRiskControl(path string) {
	m.MockEnvelope(path, -412, nil)
}

// MockNotFound adds a handler returning the not-found status code on path.
func (m *MockRemoteServer) MockNotFound(path string) {
	m.MockEnvelope(path, -404, nil)
}
