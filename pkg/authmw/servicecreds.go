package authmw

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridianlabs/licl/pkg/apierror"
)

// ServiceCredential is one bcrypt-hashed service account entry, scoped to a
// single org. Used for server-to-server Basic-auth callers that would
// rather rotate a static credential than mint JWTs (batch loaders, cron
// exporters) — an alternative front door to the bearer-JWT path, not a
// replacement for it.
type ServiceCredential struct {
	Username string
	Hash     []byte
	OrgID    string
}

// HashServiceSecret bcrypt-hashes a plaintext service secret for storage in
// a ServiceCredential.
func HashServiceSecret(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
}

// ServiceCredentialStore looks up a ServiceCredential by username.
type ServiceCredentialStore interface {
	Lookup(username string) (ServiceCredential, bool)
}

// BasicAuthMiddleware authenticates a request via HTTP Basic auth against
// store, binding the matched credential's OrgID into the request context on
// success. Intended to run instead of, not alongside, Middleware — a
// deployment picks one transport-auth scheme.
func BasicAuthMiddleware(store ServiceCredentialStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == healthPath {
				next.ServeHTTP(w, r)
				return
			}

			username, secret, ok := r.BasicAuth()
			if !ok {
				apierror.WriteUnauthorized(w, "missing Basic auth credentials")
				return
			}
			cred, found := store.Lookup(username)
			if !found {
				apierror.WriteUnauthorized(w, "unknown service credential")
				return
			}
			if bcrypt.CompareHashAndPassword(cred.Hash, []byte(secret)) != nil {
				apierror.WriteUnauthorized(w, "invalid service credential")
				return
			}

			ctx := WithOrgID(r.Context(), cred.OrgID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
