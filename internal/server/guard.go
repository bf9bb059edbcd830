package server

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Guard protects the admin API: every route wants the bearer token, and
// mutating routes additionally want the caller's address inside the allowlist.
type Guard struct {
	token    string
	allowNet []netip.Prefix
}

func NewGuard(token string, cidrs []string) (*Guard, error) {
	g := &Guard{token: token}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, errors.New("invalid admin CIDR: " + c)
		}
		g.allowNet = append(g.allowNet, p)
	}
	return g, nil
}

// Authorized wraps a handler with the bearer-token check.
func (g *Guard) Authorized(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(g.token)) != 1 {
			respondErr(w, http.StatusUnauthorized, errors.New("invalid or missing token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LocalOnly additionally requires the remote address to be inside the
// allowlist. An empty allowlist admits everyone (the token still applies).
func (g *Guard) LocalOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.allowRemote(r.RemoteAddr) {
			respondErr(w, http.StatusForbidden, errors.New("address not allowed"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) allowRemote(remoteAddr string) bool {
	if len(g.allowNet) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	for _, p := range g.allowNet {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
