package authsession

import "context"

// Browser hands an authorization URL to an external user agent. On mobile
// this is a custom-tab launcher; the companion server returns the URL to its
// caller instead.
type Browser interface {
	OpenURL(ctx context.Context, url string) error
}

// BrowserFunc adapts a function to the Browser interface.
type BrowserFunc func(ctx context.Context, url string) error

// OpenURL implements Browser.
func (f BrowserFunc) OpenURL(ctx context.Context, url string) error {
	return f(ctx, url)
}
