package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/config"
)

type Verifier interface {
	Verify(credential string) error
}

// allowAll is the verifier for AuthModeNone.
type allowAll struct{}

func (allowAll) Verify(string) error { return nil }

func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return allowAll{}, nil
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// APIKeyVerifier accepts exactly one shared key. An empty Expected rejects
// everything.
type APIKeyVerifier struct {
	Expected string
}

func (v APIKeyVerifier) Verify(apiKey string) error {
	if apiKey == "" || v.Expected == "" {
		return ErrInvalidCredentials
	}
	// Comparing digests keeps the comparison time independent of key length.
	got := sha256.Sum256([]byte(apiKey))
	want := sha256.Sum256([]byte(v.Expected))
	if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// CredentialFromRequest extracts the API key from an Authorization: Bearer
// header, falling back to the apiKey query parameter (browsers cannot set
// headers on WebSocket upgrades).
func CredentialFromRequest(mode config.AuthMode, r *http.Request) (string, error) {
	if mode == config.AuthModeNone {
		return "", nil
	}
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}
	if key := r.URL.Query().Get("apiKey"); key != "" {
		return key, nil
	}
	return "", ErrMissingCredentials
}

// Authenticate runs both steps and reports the first failure.
func Authenticate(v Verifier, mode config.AuthMode, r *http.Request) error {
	cred, err := CredentialFromRequest(mode, r)
	if err != nil {
		return err
	}
	return v.Verify(cred)
}
