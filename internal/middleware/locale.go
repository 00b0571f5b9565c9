package middleware

import (
	"context"
	"net/http"

	"golang.org/x/text/language"

	"imagebatch/internal/domain"
)

type localeContextKey struct{}

// Locale resolves the display language from ?lang, X-Locale and
// Accept-Language, in that order, falling back to the first supported locale.
func Locale(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var hints []string
		for _, v := range []string{r.URL.Query().Get("lang"), r.Header.Get("X-Locale"), r.Header.Get("Accept-Language")} {
			if v != "" {
				hints = append(hints, v)
			}
		}
		tag := domain.MatchLocale(hints...)
		w.Header().Set("Content-Language", tag.String())
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), localeContextKey{}, tag)))
	})
}

// LocaleFromContext returns the locale chosen by Locale.
func LocaleFromContext(ctx context.Context) language.Tag {
	if v, ok := ctx.Value(localeContextKey{}).(language.Tag); ok {
		return v
	}
	return domain.SupportedLocales[0]
}
