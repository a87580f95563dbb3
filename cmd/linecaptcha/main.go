// Command linecaptcha serves the line-tracing challenge API.
package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/TecharoHQ/linecaptcha"
	"github.com/TecharoHQ/linecaptcha/data"
	"github.com/TecharoHQ/linecaptcha/internal"
	liblinecaptcha "github.com/TecharoHQ/linecaptcha/lib"
	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/yaml"
)

var (
	basePrefix               = flag.String("base-prefix", "", "base prefix (root URL) the application is served under e.g. /myapp")
	bind                     = flag.String("bind", ":8923", "network address to bind HTTP to")
	bindNetwork              = flag.String("bind-network", "tcp", "network family to bind HTTP to, e.g. unix, tcp")
	configFname              = flag.String("config-fname", "", "full path to the linecaptcha threshold config (defaults to the built-in thresholds)")
	hs512Secret              = flag.String("hs512-secret", "", "secret used to sign challenge tokens, uses ed25519 if not set")
	ed25519PrivateKeyHex     = flag.String("ed25519-private-key-hex", "", "private key used to sign challenge tokens, if not set a random one will be assigned")
	ed25519PrivateKeyHexFile = flag.String("ed25519-private-key-hex-file", "", "file name containing value for ed25519-private-key-hex")
	metricsBind              = flag.String("metrics-bind", ":9090", "network address to bind metrics to")
	metricsBindNetwork       = flag.String("metrics-bind-network", "tcp", "network family for the metrics server to bind to")
	socketMode               = flag.String("socket-mode", "0770", "socket mode (permissions) for unix domain sockets.")
	slogLevel                = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	healthcheck              = flag.Bool("healthcheck", false, "run a health check against linecaptcha")
	useRemoteAddress         = flag.Bool("use-remote-address", false, "read the client's IP address from the network request, useful for debugging and running linecaptcha on bare metal")
	gzipLevel                = flag.Int("gzip-level", 0, "gzip level for API responses, 0 disables compression")
	extractResources         = flag.String("extract-resources", "", "if set, extract the built-in config to the specified folder")
	printConfig              = flag.Bool("print-config", false, "print the effective config as YAML and exit")
	versionFlag              = flag.Bool("version", false, "print linecaptcha version")
	xffStripPrivate          = flag.Bool("xff-strip-private", true, "if set, strip private addresses from X-Forwarded-For")
)

var ErrConflictingKeys = errors.New("more than one signing key was given")

func keyFromHex(value string) (ed25519.PrivateKey, error) {
	keyBytes, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("supplied key is not hex-encoded: %w", err)
	}

	if len(keyBytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("supplied key is not %d bytes long, got %d bytes", ed25519.SeedSize, len(keyBytes))
	}

	return ed25519.NewKeyFromSeed(keyBytes), nil
}

// signingKey picks the token key from the flags. It returns a nil key when
// tokens are signed with the HS512 secret instead.
func signingKey(hs512, keyHex, keyFile string) (ed25519.PrivateKey, error) {
	set := 0
	for _, v := range []string{hs512, keyHex, keyFile} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return nil, fmt.Errorf("%w: use only one of HS512_SECRET, ED25519_PRIVATE_KEY_HEX or ED25519_PRIVATE_KEY_HEX_FILE", ErrConflictingKeys)
	}

	switch {
	case hs512 != "":
		return nil, nil
	case keyHex != "":
		key, err := keyFromHex(keyHex)
		if err != nil {
			return nil, fmt.Errorf("can't parse ED25519_PRIVATE_KEY_HEX: %w", err)
		}
		return key, nil
	case keyFile != "":
		raw, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("can't read ED25519_PRIVATE_KEY_HEX_FILE: %w", err)
		}
		key, err := keyFromHex(string(bytes.TrimSpace(raw)))
		if err != nil {
			return nil, fmt.Errorf("can't parse content of ED25519_PRIVATE_KEY_HEX_FILE %s: %w", keyFile, err)
		}
		return key, nil
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("can't generate ed25519 key: %w", err)
	}
	slog.Warn("generating random key, tokens issued by one linecaptcha instance will be rejected by the others behind the same load balancer")

	return key, nil
}

// doHealthCheck scrapes the local metrics endpoint, over a unix socket when
// metrics are served on one.
func doHealthCheck(ctx context.Context) error {
	ep, err := resolveEndpoint(*metricsBindNetwork, *metricsBind)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	target := ep.String() + *basePrefix + "/metrics"

	if ep.network == "unix" {
		client.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", ep.address)
			},
		}
		target = "http://unix" + *basePrefix + "/metrics"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

func validBasePrefix(prefix string) error {
	switch {
	case prefix == "":
		return nil
	case !strings.HasPrefix(prefix, "/"):
		return fmt.Errorf("[misconfiguration] base-prefix must start with a slash, eg: /%s", prefix)
	case strings.HasSuffix(prefix, "/"):
		return errors.New("[misconfiguration] base-prefix must not end with a slash")
	}
	return nil
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("linecaptcha", linecaptcha.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	if *healthcheck {
		if err := doHealthCheck(context.Background()); err != nil {
			log.Fatal(err)
		}
		return
	}

	if *extractResources != "" {
		if err := extractEmbedFS(data.Config, *extractResources); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Extracted embedded config to %s\n", *extractResources)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context) error {
	cfg, err := liblinecaptcha.LoadConfigOrDefault(*configFname)
	if err != nil {
		return fmt.Errorf("can't load config: %w", err)
	}

	if *printConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("can't encode config: %w", err)
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	if err := validBasePrefix(*basePrefix); err != nil {
		return err
	}

	if *gzipLevel < gzip.HuffmanOnly || *gzipLevel > gzip.BestCompression {
		return fmt.Errorf("gzip-level must be between %d and %d, got %d", gzip.HuffmanOnly, gzip.BestCompression, *gzipLevel)
	}

	key, err := signingKey(*hs512Secret, *ed25519PrivateKeyHex, *ed25519PrivateKeyHexFile)
	if err != nil {
		return err
	}

	// Cancelled when either listener dies so the other one winds down too.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := liblinecaptcha.New(ctx, liblinecaptcha.Options{
		Config:            cfg,
		BasePrefix:        *basePrefix,
		ED25519PrivateKey: key,
		HS512Secret:       []byte(*hs512Secret),
	})
	if err != nil {
		return fmt.Errorf("can't construct liblinecaptcha.Server: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Error("can't close audit sinks", "err", err)
		}
	}()

	var h http.Handler = s
	if *gzipLevel != 0 {
		h = internal.GzipMiddleware(*gzipLevel, h)
	}
	h = internal.NoStoreCache(h)
	h = internal.RemoteXRealIP(*useRemoteAddress, *bindNetwork, h)
	h = internal.XForwardedForToXRealIP(h)
	h = internal.XForwardedForUpdate(*xffStripPrivate, h)

	ep, err := resolveEndpoint(*bindNetwork, *bind)
	if err != nil {
		return err
	}
	ln, err := listen(ep, *socketMode)
	if err != nil {
		return err
	}

	var (
		wg      sync.WaitGroup
		errs    = make(chan error, 2)
		apiSrv  = &http.Server{Handler: h, ErrorLog: internal.GetFilteredHTTPLogger()}
		started = []string{"api"}
	)

	if *metricsBind != "" {
		started = append(started, "metrics")
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metricsServer(ctx); err != nil {
				errs <- fmt.Errorf("metrics server: %w", err)
				cancel()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanupThread(ctx, s)
	}()

	slog.Info(
		"listening",
		"url", ep.String(),
		"version", linecaptcha.Version,
		"config", *configFname,
		"ttl", cfg.Challenge.TTL,
		"required-coverage", cfg.Verification.RequiredCoverage,
		"store", cfg.Store.Backend,
		"use-remote-address", *useRemoteAddress,
		"base-prefix", *basePrefix,
		"servers", started,
	)

	if err := serve(ctx, apiSrv, ln); err != nil {
		errs <- fmt.Errorf("api server: %w", err)
		cancel()
	}

	wg.Wait()
	close(errs)

	var result []error
	for err := range errs {
		result = append(result, err)
	}
	return errors.Join(result...)
}

// cleanupThread drops stale fallback counters until ctx is done.
func cleanupThread(ctx context.Context, s *liblinecaptcha.Server) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.CleanupDecayMap()
		}
	}
}

func metricsServer(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(linecaptcha.BasePrefix+"/metrics", promhttp.Handler())

	ep, err := resolveEndpoint(*metricsBindNetwork, *metricsBind)
	if err != nil {
		return err
	}
	ln, err := listen(ep, *socketMode)
	if err != nil {
		return err
	}
	slog.Debug("listening for metrics", "url", ep.String())

	return serve(ctx, &http.Server{Handler: mux, ErrorLog: internal.GetFilteredHTTPLogger()}, ln)
}

// extractEmbedFS copies every file in fsys under destDir.
func extractEmbedFS(fsys fs.FS, destDir string) error {
	return fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		dest := filepath.Join(destDir, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(dest, 0o700)
		}

		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}

		return os.WriteFile(dest, content, 0o644)
	})
}
