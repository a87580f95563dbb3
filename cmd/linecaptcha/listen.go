package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const shutdownTimeout = 5 * time.Second

var ErrUnsupportedScheme = errors.New("unsupported network scheme")

// endpoint is a resolved bind address.
type endpoint struct {
	network string
	address string
}

func (e endpoint) String() string {
	switch e.network {
	case "unix":
		return "unix:" + e.address
	case "tcp":
		if strings.HasPrefix(e.address, ":") {
			return "http://localhost" + e.address
		}
		return "http://" + e.address
	default:
		return fmt.Sprintf("(%s) %s", e.network, e.address)
	}
}

// parseBindNetFromAddr derives the network from a URL-ish bind address such
// as ":8923", "tcp://[::1]:8923" or "unix:///run/linecaptcha.sock".
func parseBindNetFromAddr(address string) (endpoint, error) {
	if !strings.Contains(address, "://") {
		if strings.HasPrefix(address, ":") {
			address = "localhost" + address
		}
		address = "http://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return endpoint{}, fmt.Errorf("can't parse bind URL %q: %w", address, err)
	}

	switch u.Scheme {
	case "unix":
		return endpoint{"unix", u.Path}, nil
	case "tcp", "http", "https":
		return endpoint{"tcp", u.Host}, nil
	default:
		return endpoint{}, fmt.Errorf("%w %q in address %s", ErrUnsupportedScheme, u.Scheme, address)
	}
}

// resolveEndpoint takes the network from the address itself when no network
// flag was given.
func resolveEndpoint(network, address string) (endpoint, error) {
	if network == "" {
		return parseBindNetFromAddr(address)
	}
	return endpoint{network, address}, nil
}

// listen binds e. Unix sockets get their mode set to the octal socketMode.
func listen(e endpoint, socketMode string) (net.Listener, error) {
	ln, err := net.Listen(e.network, e.address)
	if err != nil {
		return nil, fmt.Errorf("can't bind to %s: %w", e, err)
	}

	if e.network != "unix" {
		return ln, nil
	}

	mode, err := strconv.ParseUint(socketMode, 8, 32)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("can't parse socket mode %s: %w", socketMode, err)
	}

	if err := os.Chmod(e.address, os.FileMode(mode)); err != nil {
		ln.Close()
		return nil, fmt.Errorf("can't change socket mode: %w", err)
	}

	return ln, nil
}

// serve runs srv on ln until ctx is done, then gives in-flight requests
// shutdownTimeout to finish.
func serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			slog.Error("can't shut down cleanly", "addr", ln.Addr().String(), "err", err)
		}
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
