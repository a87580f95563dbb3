package internal

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gaissmai/bart"
	"github.com/sebest/xff"
)

// privateRanges holds the address ranges that are never forwarded when
// X-Forwarded-For stripping is enabled.
var privateRanges = func() *bart.Table[struct{}] {
	result := new(bart.Table[struct{}])

	for _, cidr := range []string{
		"0.0.0.0/8",
		"10.0.0.0/8",
		"100.64.0.0/10",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	} {
		result.Insert(netip.MustParsePrefix(cidr), struct{}{})
	}

	return result
}()

// IsPrivateAddr reports whether addr lies in a loopback, link-local or
// private-use range.
func IsPrivateAddr(addr string) bool {
	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return false
	}

	_, ok := privateRanges.Lookup(ip.Unmap())
	return ok
}

// RemoteXRealIP sets the X-Real-Ip header to the request's real IP if
// the setting is enabled by the user.
func RemoteXRealIP(useRemoteAddress bool, bindNetwork string, next http.Handler) http.Handler {
	if !useRemoteAddress {
		slog.Debug("skipping middleware, useRemoteAddress is empty")
		return next
	}

	if bindNetwork == "unix" {
		// For local sockets there is no real remote address but the localhost
		// address should be sensible.
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Set("X-Real-Ip", "127.0.0.1")
			next.ServeHTTP(w, r)
		})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		r.Header.Set("X-Real-Ip", host)
		next.ServeHTTP(w, r)
	})
}

// XForwardedForToXRealIP sets the X-Real-Ip header based on the contents
// of the X-Forwarded-For header.
func XForwardedForToXRealIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if xffHeader := r.Header.Get("X-Forwarded-For"); r.Header.Get("X-Real-Ip") == "" && xffHeader != "" {
			ip := xff.Parse(xffHeader)
			slog.Debug("setting x-real-ip", "val", ip)
			r.Header.Set("X-Real-Ip", ip)
		}
		next.ServeHTTP(w, r)
	})
}

// XForwardedForUpdate sets or updates the X-Forwarded-For header, adding
// the known remote address to an existing chain if present.
func XForwardedForUpdate(stripPrivate bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer next.ServeHTTP(w, r)

		remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			remoteIP = r.RemoteAddr
		}

		if parsed := net.ParseIP(remoteIP); parsed != nil && parsed.IsLoopback() {
			// anything on loopback is a local reverse proxy and is trusted
			return
		}

		if header := computeXFFHeader(remoteIP, r.Header.Get("X-Forwarded-For"), stripPrivate); header != "" {
			r.Header.Set("X-Forwarded-For", header)
		} else {
			r.Header.Del("X-Forwarded-For")
		}
	})
}

func computeXFFHeader(remoteAddr string, origXFFHeader string, stripPrivate bool) string {
	var chain []string

	if origXFFHeader != "" {
		for _, addr := range strings.Split(origXFFHeader, ",") {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			chain = append(chain, addr)
		}
	}

	if remoteAddr != "" {
		chain = append(chain, remoteAddr)
	}

	if stripPrivate {
		kept := chain[:0]
		for _, addr := range chain {
			if IsPrivateAddr(addr) {
				continue
			}
			kept = append(kept, addr)
		}
		chain = kept
	}

	return strings.Join(chain, ",")
}

// NoStoreCache sets the Cache-Control header to no-store for the response.
func NoStoreCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
