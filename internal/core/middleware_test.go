package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"orderpulse/internal/types"
)

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var seenID string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = types.GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if seenID == "" {
		t.Fatal("expected a generated request ID in the context")
	}
	if got := w.Header().Get("X-Request-Id"); got != seenID {
		t.Errorf("response header %q does not match context ID %q", got, seenID)
	}
}

func TestRequestIDMiddleware_ReusesIncomingID(t *testing.T) {
	var seenID string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = types.GetRequestID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-Id", "upstream-id-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if seenID != "upstream-id-123" {
		t.Errorf("expected upstream ID to be reused, got %q", seenID)
	}
}

func TestContextTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var hasDeadline bool
	handler := ContextTimeoutMiddleware(5 * time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !hasDeadline {
		t.Error("expected the request context to carry a deadline")
	}
}

func TestRecoverer_PanicBecomes500(t *testing.T) {
	s := &Server{Logger: slog.Default()}
	handler := s.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
	var errResp APIErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("expected code %s, got %s", types.ErrCodeInternalUnexpected, errResp.Error.Code)
	}
}

func TestRecoverer_PassThrough(t *testing.T) {
	s := &Server{Logger: slog.Default()}
	handler := s.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("expected status 418, got %d", w.Code)
	}
}

func TestResponseCapture_DefaultsTo200OnWrite(t *testing.T) {
	rc := &responseCapture{ResponseWriter: httptest.NewRecorder()}

	if _, err := rc.Write([]byte("ok")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if rc.statusCode != http.StatusOK {
		t.Errorf("expected captured status 200, got %d", rc.statusCode)
	}
}

func TestResponseCapture_KeepsFirstStatus(t *testing.T) {
	rc := &responseCapture{ResponseWriter: httptest.NewRecorder()}

	rc.WriteHeader(http.StatusNotFound)
	rc.WriteHeader(http.StatusOK)

	if rc.statusCode != http.StatusNotFound {
		t.Errorf("expected captured status 404, got %d", rc.statusCode)
	}
}

func TestRequestLogger_RunsChain(t *testing.T) {
	called := false
	handler := RequestLogger(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if !called {
		t.Error("expected downstream handler to run")
	}
	if w.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", w.Code)
	}
}
