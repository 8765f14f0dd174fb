// Package sdk drives PayPal's in-page subscription button from Go. The page,
// the script tag and the provider SDK are reached through interfaces so the
// same lifecycle runs in a browser host, a WebView bridge or a test.
package sdk

import (
	"context"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/duobill/internal/billing"
)

const (
	scriptBase  = "https://www.paypal.com/sdk/js"
	loadTimeout = 30 * time.Second
)

// Page is the host document the SDK script is loaded into.
type Page interface {
	// ButtonSDK returns the provider's global handle once its script has run.
	ButtonSDK() (ButtonSDK, bool)
	// InjectScript adds a script tag for src and blocks until it has loaded
	// or failed.
	InjectScript(ctx context.Context, src string) error
}

// Loader makes sure the provider script is present on a page. At most one
// load is in flight per loader, and a failed load is not remembered.
type Loader struct {
	page  Page
	src   string
	group singleflight.Group
}

func NewLoader(page Page, clientID, currency string) *Loader {
	return &Loader{page: page, src: ScriptURL(clientID, currency)}
}

// ScriptURL is the src the loader injects.
func (l *Loader) ScriptURL() string {
	return l.src
}

// Ensure returns the SDK handle, loading the script first if needed.
func (l *Loader) Ensure(ctx context.Context) (ButtonSDK, error) {
	if sdk, ok := l.page.ButtonSDK(); ok {
		return sdk, nil
	}
	// A caller that gives up stops waiting; the load keeps going for the
	// others.
	ch := l.group.DoChan(l.src, func() (any, error) {
		if sdk, ok := l.page.ButtonSDK(); ok {
			return sdk, nil
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		if err := l.page.InjectScript(lctx, l.src); err != nil {
			return nil, &billing.SdkLoadError{Src: l.src, Err: err}
		}
		sdk, ok := l.page.ButtonSDK()
		if !ok {
			return nil, &billing.SdkLoadError{Src: l.src}
		}
		return sdk, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(ButtonSDK), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ScriptURL is the subscription-intent SDK script for clientID. An empty
// currency means USD.
func ScriptURL(clientID, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	return scriptBase +
		"?client-id=" + url.QueryEscape(clientID) +
		"&vault=true&intent=subscription" +
		"&currency=" + url.QueryEscape(currency)
}
