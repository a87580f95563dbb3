package internal

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// InitSlog installs a JSON handler on stderr as the default logger. An
// unparseable level falls back to INFO.
func InitSlog(level string) {
	var programLevel slog.Level
	if err := programLevel.UnmarshalText([]byte(level)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v, using info\n", level, err)
		programLevel = slog.LevelInfo
	}

	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     programLevel,
	})
	slog.SetDefault(slog.New(h))
}

func GetRequestLogger(r *http.Request) *slog.Logger {
	return slog.With(
		"method", r.Method,
		"path", r.URL.Path,
		"user_agent", r.UserAgent(),
		"accept_language", r.Header.Get("Accept-Language"),
		"x-real-ip", r.Header.Get("X-Real-Ip"),
		"x-request-id", r.Header.Get("X-Request-Id"),
	)
}

// quietHTTPErrors are net/http server errors caused by clients going away
// mid-request. Solvers close tabs all the time.
var quietHTTPErrors = []string{
	"context canceled",
	"connection reset by peer",
}

// ErrorLogFilter drops http.Server error log lines that only say a client
// disconnected.
type ErrorLogFilter struct {
	Unwrap *log.Logger
}

func (elf *ErrorLogFilter) Write(p []byte) (n int, err error) {
	msg := string(p)
	for _, quiet := range quietHTTPErrors {
		if strings.Contains(msg, quiet) {
			return len(p), nil
		}
	}

	if elf.Unwrap == nil {
		return len(p), nil
	}
	return elf.Unwrap.Writer().Write(p)
}

func GetFilteredHTTPLogger() *log.Logger {
	return log.New(&ErrorLogFilter{Unwrap: log.New(os.Stderr, "", log.LstdFlags)}, "", 0)
}
