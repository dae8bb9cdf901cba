package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

// LangCookie remembers an explicit ?lang= choice.
const LangCookie = "docquest_lang"

// Middleware picks the request language and injects a localizer into the
// context. Precedence: ?lang= query, the language cookie, Accept-Language,
// then the default passed to Init.
func Middleware(defaultLang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := Negotiate(r, defaultLang)
			if q := r.URL.Query().Get("lang"); q != "" && q == lang {
				http.SetCookie(w, &http.Cookie{
					Name:     LangCookie,
					Value:    lang,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
					MaxAge:   365 * 24 * 3600,
				})
			}
			ctx := WithLocalizer(r.Context(), NewLocalizer(lang, defaultLang))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Negotiate returns the best supported language for r.
func Negotiate(r *http.Request, defaultLang string) string {
	if matcher == nil {
		return defaultLang
	}
	var prefs []language.Tag
	if q := r.URL.Query().Get("lang"); q != "" {
		if t, err := language.Parse(q); err == nil {
			prefs = append(prefs, t)
		}
	}
	if c, err := r.Cookie(LangCookie); err == nil {
		if t, err := language.Parse(c.Value); err == nil {
			prefs = append(prefs, t)
		}
	}
	if h := r.Header.Get("Accept-Language"); h != "" {
		if tags, _, err := language.ParseAcceptLanguage(h); err == nil {
			prefs = append(prefs, tags...)
		}
	}
	if len(prefs) == 0 {
		return defaultLang
	}
	_, idx, conf := matcher.Match(prefs...)
	if conf == language.No {
		return defaultLang
	}
	return supported[idx].String()
}
