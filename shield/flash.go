package shield

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const flashCookie = "docpeek_flash"

// Flash reads the flash cookie, parses the type prefix ("success:" or
// "error:"), stores the FlashMessage in the context under FlashKey and
// clears the cookie.
func Flash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(flashCookie)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		http.SetCookie(w, &http.Cookie{Name: flashCookie, MaxAge: -1, Path: cookiePath(r.URL.Path)})

		raw, _ := url.QueryUnescape(cookie.Value)
		flash := &FlashMessage{Type: "error", Message: raw}
		if after, ok := strings.CutPrefix(raw, "success:"); ok {
			flash.Type = "success"
			flash.Message = after
		} else if after, ok := strings.CutPrefix(raw, "error:"); ok {
			flash.Message = after
		}

		ctx := context.WithValue(r.Context(), FlashKey, flash)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetFlash sets a flash cookie scoped to path, so a message for one
// surface never shows up on another. The cookie is HttpOnly and
// SameSite=Strict with a 10-second TTL.
func SetFlash(w http.ResponseWriter, path, flashType, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(flashType + ":" + message),
		Path:     path,
		MaxAge:   10,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// cookiePath is the directory of p, the scope SetFlash callers use.
func cookiePath(p string) string {
	if i := strings.LastIndexByte(p, '/'); i > 0 {
		return p[:i+1]
	}
	return "/"
}
