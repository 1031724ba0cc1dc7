package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	AccessKeyHeader = "X-Access-Key"
	accessKeyQuery  = "key"
)

var ErrEmptyKey = errors.New("access key is empty")

// HashKey produces the bcrypt hash stored in RELAY_ACCESS_KEY_HASH.
func HashKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", ErrEmptyKey
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// KeyVerifier checks consumer access keys against a bcrypt hash.
// An empty hash disables the check.
type KeyVerifier struct {
	hash []byte
}

func NewKeyVerifier(hash string) *KeyVerifier {
	return &KeyVerifier{hash: []byte(strings.TrimSpace(hash))}
}

func (v *KeyVerifier) Enabled() bool {
	return v != nil && len(v.hash) > 0
}

func (v *KeyVerifier) Verify(key string) bool {
	if !v.Enabled() {
		return true
	}
	if key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(v.hash, []byte(key)) == nil
}

func keyFromRequest(r *http.Request) string {
	if k := r.Header.Get(AccessKeyHeader); k != "" {
		return k
	}
	if k := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "); k != r.Header.Get("Authorization") {
		return k
	}
	return r.URL.Query().Get(accessKeyQuery)
}

// RequireConsumer rejects requests without a valid access key and tags the rest with a Consumer.
func RequireConsumer(v *KeyVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.Verify(keyFromRequest(r)) {
				logger.WithFields(map[string]interface{}{
					"remote": r.RemoteAddr,
					"path":   r.URL.Path,
				}).Warn("rejected consumer with invalid access key")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			consumer := &Consumer{ID: uuid.NewString(), RemoteAddr: r.RemoteAddr}
			next.ServeHTTP(w, r.WithContext(WithConsumer(r.Context(), consumer)))
		})
	}
}
