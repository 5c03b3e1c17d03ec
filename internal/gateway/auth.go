package gateway

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/soyeahso/chaincraft/internal/config"
)

// Auth modes.
const (
	AuthModeToken    = "token"
	AuthModePassword = "password"
	AuthModeNone     = "none"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the effective gateway credentials.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// ResolveAuth fills in credentials missing from cfg from the environment.
// The token override is applied by the config loader; the password can only
// come from here or the file.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{Mode: cfg.Mode, Token: cfg.Token, Password: cfg.Password}
	if auth.Password == "" {
		auth.Password = os.Getenv("CHAINCRAFT_GATEWAY_PASSWORD")
	}
	if auth.Mode == "" {
		if auth.Password != "" {
			auth.Mode = AuthModePassword
		} else {
			auth.Mode = AuthModeToken
		}
	}
	return auth
}

// Authorize checks client credentials against the server's.
func Authorize(server ResolvedAuth, client *ConnectAuth) AuthResult {
	if server.Mode == AuthModeNone {
		return AuthResult{OK: true, Method: AuthModeNone}
	}
	if client == nil {
		return AuthResult{Reason: "no credentials provided"}
	}

	switch server.Mode {
	case AuthModeToken:
		return checkSecret(AuthModeToken, server.Token, client.Token)
	case AuthModePassword:
		return checkSecret(AuthModePassword, server.Password, client.Password)
	default:
		return AuthResult{Reason: "unknown auth mode: " + server.Mode}
	}
}

func checkSecret(method, want, got string) AuthResult {
	if want == "" {
		return AuthResult{Reason: "server " + method + " not configured"}
	}
	if got == "" {
		return AuthResult{Reason: method + " required"}
	}
	if !safeEqual(got, want) {
		return AuthResult{Reason: method + "_mismatch"}
	}
	return AuthResult{OK: true, Method: method}
}

// authorizeRequest checks the bearer credential of a REST request. The
// bearer value is the token or the password, depending on the mode.
func authorizeRequest(server ResolvedAuth, r *http.Request) AuthResult {
	if server.Mode == AuthModeNone {
		return AuthResult{OK: true, Method: AuthModeNone}
	}
	bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return AuthResult{Reason: "bearer credential required"}
	}
	return Authorize(server, &ConnectAuth{Token: bearer, Password: bearer})
}

// safeEqual compares in constant time without leaking the secret length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
