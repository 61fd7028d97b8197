package livingapps

import (
	"context"
	"net/http"
)

type cookiesKey struct{}

// WithCookies returns a context carrying the browser cookies that should be
// sent along with platform requests made on its behalf.
func WithCookies(ctx context.Context, cookies []*http.Cookie) context.Context {
	if len(cookies) == 0 {
		return ctx
	}
	return context.WithValue(ctx, cookiesKey{}, cookies)
}

// CookiesFromContext returns the cookies stored by WithCookies.
func CookiesFromContext(ctx context.Context) []*http.Cookie {
	cookies, _ := ctx.Value(cookiesKey{}).([]*http.Cookie)
	return cookies
}
