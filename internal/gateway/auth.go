package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/flemzord/sgate/internal/security"
	"github.com/flemzord/sgate/internal/workflow"
)

// AccountHeader lets internal callers name the account they act for.
const AccountHeader = "X-Sgate-Account"

// defaultInternalAccount bills internal requests that name no account.
const defaultInternalAccount = "internal"

var (
	errUnauthorized = errors.New("missing or invalid credentials")
	errTooManyAuth  = errors.New("too many failed authentication attempts")
	errRateLimited  = errors.New("request rate limit exceeded")
)

// caller is the authenticated identity of a client request.
type caller struct {
	Channel workflow.Channel
	Account string
	// APIKey owns the token budget. Internal callers have none.
	APIKey string
}

func callerFrom(ctx context.Context) (caller, bool) {
	c, ok := ctx.Value(callerKey).(caller)
	return c, ok
}

// clientIP returns the host part of the peer address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || after == "" {
		return "", false
	}
	return after, true
}

// authenticate resolves the caller of a client route. The admin bearer
// token maps to the internal channel; API keys map to external accounts.
func (g *Gateway) authenticate(r *http.Request) (caller, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return caller{}, false
	}
	auth := g.config.Auth
	if auth.BearerToken != "" && constantTimeEqual(token, auth.BearerToken) {
		account := r.Header.Get(AccountHeader)
		if account == "" {
			account = defaultInternalAccount
		}
		return caller{Channel: workflow.ChannelInternal, Account: account}, true
	}
	// Every key is compared so timing does not reveal which prefix matched.
	var found caller
	matched := false
	for key, account := range auth.APIKeys {
		if constantTimeEqual(token, key) {
			found = caller{Channel: workflow.ChannelExternal, Account: account, APIKey: key}
			matched = true
		}
	}
	return found, matched
}

// clientAuth guards the client API. Failed attempts are rate limited per
// peer address; authenticated callers are rate limited per account.
func (g *Gateway) clientAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if g.rateLimiter.Exceeded(security.KindAuthFailure, ip) {
			g.writeError(w, r, codeRateLimited, errTooManyAuth)
			return
		}

		c, ok := g.authenticate(r)
		if !ok {
			g.authFailed(w, r, ip, "invalid client credentials")
			return
		}
		if err := g.rateLimiter.Allow(security.KindRequest, c.Account); err != nil {
			g.writeError(w, r, codeRateLimited, errRateLimited)
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, c)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminAuth validates the Bearer token or Basic auth credentials using
// constant-time comparison.
func (g *Gateway) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if g.rateLimiter.Exceeded(security.KindAuthFailure, ip) {
			g.writeError(w, r, codeRateLimited, errTooManyAuth)
			return
		}

		cfg := g.config.Auth
		if cfg.BearerToken != "" {
			if token, ok := bearerToken(r); ok && constantTimeEqual(token, cfg.BearerToken) {
				next.ServeHTTP(w, r)
				return
			}
		}
		if cfg.BasicUser != "" && cfg.BasicPass != "" {
			user, pass, ok := r.BasicAuth()
			if ok && constantTimeEqual(user, cfg.BasicUser) && constantTimeEqual(pass, cfg.BasicPass) {
				next.ServeHTTP(w, r)
				return
			}
		}

		g.authFailed(w, r, ip, "invalid admin credentials")
	})
}

// authFailed records the failure against ip, audits it and answers 401.
func (g *Gateway) authFailed(w http.ResponseWriter, r *http.Request, ip, detail string) {
	_ = g.rateLimiter.Allow(security.KindAuthFailure, ip)
	if r.Header.Get("Authorization") == "" {
		detail = "missing authorization header"
	}
	g.audit.Log(security.AuditEvent{
		Type:      security.EventAuthFailure,
		RequestID: requestIDFrom(r.Context()),
		Detail:    detail,
		Metadata: map[string]string{
			"remote_addr": ip,
			"method":      r.Method,
			"path":        r.URL.Path,
		},
	})
	g.writeError(w, r, codeUnauthorized, errUnauthorized)
}

// constantTimeEqual compares two strings in constant time.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
