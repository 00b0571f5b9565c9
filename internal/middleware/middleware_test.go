package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
)

func TestRequestIDPropagatesOrAssigns(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "abc" || rec.Header().Get("X-Request-ID") != "abc" {
		t.Fatalf("request id = %q header = %q", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 36 || rec.Header().Get("X-Request-ID") != seen {
		t.Fatalf("generated id = %q", seen)
	}
}

func TestLoggerWritesAccessLineAndKeepsFlusher(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	handler := RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("flush through logger: %v", err)
		}
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/batch/start", nil)
	req.Header.Set("X-Request-ID", "rid-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, `"request_id":"rid-1"`) || !strings.Contains(out, "inside") {
		t.Fatalf("log output = %s", out)
	}
	if !strings.Contains(out, "POST /v1/batch/start 202") || !strings.Contains(out, `"bytes":2`) {
		t.Fatalf("access line missing: %s", out)
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	restricted := CORS([]string{"https://app.example.com"})(next)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	restricted.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected allow origin for unlisted origin")
	}

	open := CORS([]string{"*"})(next)
	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://any.example.com")
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://any.example.com" {
		t.Fatalf("preflight = %d %v", rec.Code, rec.Header())
	}
}

func TestLocale(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header map[string]string
		want   language.Tag
	}{
		{name: "default chinese", target: "/", want: language.Chinese},
		{name: "accept-language english", target: "/", header: map[string]string{"Accept-Language": "en-US,en;q=0.9"}, want: language.English},
		{name: "x-locale wins over accept-language", target: "/", header: map[string]string{"X-Locale": "zh-CN", "Accept-Language": "en"}, want: language.Chinese},
		{name: "query wins", target: "/?lang=en", header: map[string]string{"X-Locale": "zh"}, want: language.English},
		{name: "unsupported falls back", target: "/", header: map[string]string{"Accept-Language": "fr-FR"}, want: language.Chinese},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got language.Tag
			handler := Locale(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = LocaleFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if got != tc.want {
				t.Fatalf("locale = %s, want %s", got, tc.want)
			}
		})
	}
}
