package authmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type memCredStore map[string]ServiceCredential

func (m memCredStore) Lookup(username string) (ServiceCredential, bool) {
	c, ok := m[username]
	return c, ok
}

func TestBasicAuthMiddlewareAcceptsValidCredential(t *testing.T) {
	hash, err := HashServiceSecret("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	store := memCredStore{"loader-1": ServiceCredential{Username: "loader-1", Hash: hash, OrgID: "org-a"}}
	mw := BasicAuthMiddleware(store)

	var gotOrgID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrgID, _ = OrgIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/signals", nil)
	req.SetBasicAuth("loader-1", "s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotOrgID != "org-a" {
		t.Fatalf("expected org-a, got %q", gotOrgID)
	}
}

func TestBasicAuthMiddlewareRejectsWrongSecret(t *testing.T) {
	hash, _ := HashServiceSecret("s3cret")
	store := memCredStore{"loader-1": ServiceCredential{Username: "loader-1", Hash: hash, OrgID: "org-a"}}
	mw := BasicAuthMiddleware(store)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/v1/signals", nil)
	req.SetBasicAuth("loader-1", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBasicAuthMiddlewareRejectsUnknownUsername(t *testing.T) {
	store := memCredStore{}
	mw := BasicAuthMiddleware(store)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/v1/signals", nil)
	req.SetBasicAuth("ghost", "whatever")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
