package internal

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGzipMiddleware(t *testing.T) {
	h := GzipMiddleware(gzip.BestSpeed, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"passed":true}`)
	}))

	for _, tt := range []struct {
		name           string
		acceptEncoding string
		wantGzip       bool
	}{
		{"gzip accepted", "gzip, deflate", true},
		{"identity only", "", false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/captcha/line/verify", nil)
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			gotGzip := rec.Header().Get("Content-Encoding") == "gzip"
			if gotGzip != tt.wantGzip {
				t.Fatalf("Content-Encoding gzip = %v, want %v", gotGzip, tt.wantGzip)
			}

			var body io.Reader = rec.Body
			if gotGzip {
				gz, err := gzip.NewReader(rec.Body)
				if err != nil {
					t.Fatal(err)
				}
				body = gz
			}

			data, err := io.ReadAll(body)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != `{"passed":true}` {
				t.Errorf("body = %q", data)
			}
		})
	}
}

func TestGzipMiddlewareBadLevel(t *testing.T) {
	h := GzipMiddleware(42, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") != "" {
		t.Error("response was compressed with an invalid level")
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", rec.Body.String())
	}
}
