// Package browserfakes provides a fake Browser for tests.
package browserfakes

import (
	"context"
	"sync"
)

// FakeBrowser records opened URLs and can be made to fail.
type FakeBrowser struct {
	mu   sync.Mutex
	urls []string
	err  error
}

// NewFakeBrowser creates a fake browser launcher.
func NewFakeBrowser() *FakeBrowser {
	return &FakeBrowser{}
}

// OpenURL records the URL and returns the configured error, if any.
func (f *FakeBrowser) OpenURL(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.urls = append(f.urls, url)
	return nil
}

// SetError makes subsequent OpenURL calls fail with err.
func (f *FakeBrowser) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// OpenedURLs returns every URL handed to the browser.
func (f *FakeBrowser) OpenedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.urls))
	copy(out, f.urls)
	return out
}
