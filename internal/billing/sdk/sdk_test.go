package sdk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/duobill/internal/billing"
)

// fakePage simulates a document: injecting the script installs the SDK
// global unless the page is told to fail.
type fakePage struct {
	mu        sync.Mutex
	sdk       *fakeSDK
	installed bool
	injects   atomic.Int32
	injectErr error
	noGlobal  bool
	release   chan struct{}
	srcs      []string
}

func (p *fakePage) ButtonSDK() (ButtonSDK, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.installed {
		return nil, false
	}
	return p.sdk, true
}

func (p *fakePage) InjectScript(ctx context.Context, src string) error {
	p.injects.Add(1)
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.srcs = append(p.srcs, src)
	if p.injectErr != nil {
		return p.injectErr
	}
	if !p.noGlobal {
		p.installed = true
	}
	return nil
}

type fakeWidget struct {
	closed atomic.Bool
}

func (w *fakeWidget) Close() error {
	w.closed.Store(true)
	return nil
}

// fakeSDK records every render and keeps the callbacks of the last one.
type fakeSDK struct {
	mu        sync.Mutex
	widgets   []*fakeWidget
	cfg       ButtonConfig
	renderErr error
}

func (s *fakeSDK) Render(_ context.Context, _ string, cfg ButtonConfig) (Widget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renderErr != nil {
		return nil, s.renderErr
	}
	s.cfg = cfg
	w := &fakeWidget{}
	s.widgets = append(s.widgets, w)
	return w, nil
}

func (s *fakeSDK) config() ButtonConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *fakeSDK) openWidgets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.widgets {
		if !w.closed.Load() {
			n++
		}
	}
	return n
}

// recordingActions captures the plan id the creation callback asks for.
type recordingActions struct {
	planIDs []string
}

func (a *recordingActions) CreateSubscription(_ context.Context, planID string) (string, error) {
	a.planIDs = append(a.planIDs, planID)
	return "I-" + planID, nil
}

type recordingHost struct {
	mu        sync.Mutex
	approvals []SubscriptionApproval
	failures  []error
}

func (h *recordingHost) Approved(a SubscriptionApproval) {
	h.mu.Lock()
	h.approvals = append(h.approvals, a)
	h.mu.Unlock()
}

func (h *recordingHost) Failed(err error) {
	h.mu.Lock()
	h.failures = append(h.failures, err)
	h.mu.Unlock()
}

type countingLoader struct {
	calls atomic.Int32
	inner SDKLoader
}

func (l *countingLoader) Ensure(ctx context.Context) (ButtonSDK, error) {
	l.calls.Add(1)
	return l.inner.Ensure(ctx)
}

func TestScriptURL(t *testing.T) {
	l := NewLoader(&fakePage{}, "AbC 1", "EUR")
	assert.Equal(t, "https://www.paypal.com/sdk/js?client-id=AbC+1&vault=true&intent=subscription&currency=EUR", l.ScriptURL())

	l = NewLoader(&fakePage{}, "id", "")
	assert.Contains(t, l.ScriptURL(), "currency=USD")
}

func TestEnsureInjectsOnceUnderConcurrency(t *testing.T) {
	page := &fakePage{sdk: &fakeSDK{}, release: make(chan struct{})}
	l := NewLoader(page, "client", "USD")

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = l.Ensure(context.Background())
		}()
	}
	require.Eventually(t, func() bool { return page.injects.Load() == 1 }, time.Second, time.Millisecond)
	close(page.release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), page.injects.Load())
	assert.Equal(t, []string{l.ScriptURL()}, page.srcs)

	// already loaded: no further injection
	_, err := l.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), page.injects.Load())
}

func TestEnsureCancelledCallerDoesNotFailOthers(t *testing.T) {
	page := &fakePage{sdk: &fakeSDK{}, release: make(chan struct{})}
	l := NewLoader(page, "client", "USD")

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := l.Ensure(ctx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return page.injects.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	secondErr := make(chan error, 1)
	go func() {
		_, err := l.Ensure(context.Background())
		secondErr <- err
	}()
	close(page.release)

	require.NoError(t, <-secondErr)
	assert.Equal(t, int32(1), page.injects.Load())
}

func TestEnsureGlobalAlreadyPresent(t *testing.T) {
	page := &fakePage{sdk: &fakeSDK{}, installed: true}
	l := NewLoader(page, "client", "USD")

	sdk, err := l.Ensure(context.Background())
	require.NoError(t, err)
	assert.Same(t, page.sdk, sdk)
	assert.Equal(t, int32(0), page.injects.Load())
}

func TestEnsureLoadFailureIsNotCached(t *testing.T) {
	page := &fakePage{sdk: &fakeSDK{}, injectErr: errors.New("net::ERR_BLOCKED_BY_CLIENT")}
	l := NewLoader(page, "client", "USD")

	_, err := l.Ensure(context.Background())
	require.ErrorIs(t, err, billing.ErrSdkLoad)
	var sle *billing.SdkLoadError
	require.ErrorAs(t, err, &sle)
	assert.Equal(t, l.ScriptURL(), sle.Src)

	page.mu.Lock()
	page.injectErr = nil
	page.mu.Unlock()

	_, err = l.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), page.injects.Load())
}

func TestEnsureScriptLoadedWithoutGlobal(t *testing.T) {
	page := &fakePage{sdk: &fakeSDK{}, noGlobal: true}
	l := NewLoader(page, "client", "USD")

	_, err := l.Ensure(context.Background())
	assert.ErrorIs(t, err, billing.ErrSdkLoad)
}

func TestBindQuietWithoutConfiguration(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		planID   string
		mount    string
	}{
		{"no client id", "", "P-1", "#paypal"},
		{"no plan id", "client", "", "#paypal"},
		{"blank plan id", "client", "  ", "#paypal"},
		{"no mount", "client", "P-1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := &fakePage{sdk: &fakeSDK{}}
			loader := &countingLoader{inner: NewLoader(page, tt.clientID, "USD")}
			host := &recordingHost{}
			c := NewController(tt.clientID, loader, host)

			require.NoError(t, c.Bind(context.Background(), tt.planID, tt.mount))
			assert.Equal(t, int32(0), loader.calls.Load())
			assert.Equal(t, int32(0), page.injects.Load())
			assert.Equal(t, StateUninitialized, c.State())
			assert.Empty(t, host.failures)
		})
	}
}

func TestBindRendersAndRebindUsesCurrentPlan(t *testing.T) {
	sdk := &fakeSDK{}
	page := &fakePage{sdk: sdk}
	c := NewController("client", NewLoader(page, "client", "USD"), &recordingHost{})
	ctx := context.Background()

	require.NoError(t, c.Bind(ctx, "P-A", "#paypal"))
	assert.Equal(t, StateRendered, c.State())
	first := sdk.config()

	require.NoError(t, c.Bind(ctx, "P-B", "#paypal"))
	assert.Equal(t, 1, sdk.openWidgets(), "rebinding must not leave duplicate buttons")
	assert.True(t, sdk.widgets[0].closed.Load())

	// Even a callback captured by the first render asks for the current plan.
	actions := &recordingActions{}
	id, err := first.CreateSubscription(ctx, actions)
	require.NoError(t, err)
	assert.Equal(t, "I-P-B", id)
	_, err = sdk.config().CreateSubscription(ctx, actions)
	require.NoError(t, err)
	assert.Equal(t, []string{"P-B", "P-B"}, actions.planIDs)
	assert.Equal(t, int32(1), page.injects.Load())
}

func TestRebindBeforeFirstRenderCompletes(t *testing.T) {
	sdk := &fakeSDK{}
	page := &fakePage{sdk: sdk, release: make(chan struct{})}
	c := NewController("client", NewLoader(page, "client", "USD"), &recordingHost{})
	ctx := context.Background()

	errA := make(chan error, 1)
	go func() { errA <- c.Bind(ctx, "P-A", "#paypal") }()
	require.Eventually(t, func() bool { return page.injects.Load() == 1 }, time.Second, time.Millisecond)

	errB := make(chan error, 1)
	go func() { errB <- c.Bind(ctx, "P-B", "#paypal") }()
	require.Eventually(t, func() bool { return c.currentPlan() == "P-B" }, time.Second, time.Millisecond)
	assert.Equal(t, 0, sdk.openWidgets(), "nothing may render while the script is loading")

	close(page.release)
	require.NoError(t, <-errA)
	require.NoError(t, <-errB)

	assert.Equal(t, 1, sdk.openWidgets())
	assert.Equal(t, int32(1), page.injects.Load())
	assert.Equal(t, StateRendered, c.State())

	actions := &recordingActions{}
	_, err := sdk.config().CreateSubscription(ctx, actions)
	require.NoError(t, err)
	assert.Equal(t, []string{"P-B"}, actions.planIDs)
}

func TestApprovalReachesHostAndWait(t *testing.T) {
	sdk := &fakeSDK{}
	host := &recordingHost{}
	c := NewController("client", NewLoader(&fakePage{sdk: sdk}, "client", "USD"), host)
	ctx := context.Background()
	require.NoError(t, c.Bind(ctx, "P-1", "#paypal"))

	sdk.config().OnApprove(map[string]any{"orderID": "O-1", "subscriptionID": "I-SUB-1"})

	require.Len(t, host.approvals, 1)
	assert.Equal(t, SubscriptionApproval{SubscriptionID: "I-SUB-1", PlanID: "P-1", Accepted: true}, host.approvals[0])
	assert.Equal(t, StateApproved, c.State())

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	got, err := c.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, "I-SUB-1", got.SubscriptionID)
}

func TestApprovalWithoutSubscriptionIDIsNoOp(t *testing.T) {
	sdk := &fakeSDK{}
	host := &recordingHost{}
	c := NewController("client", NewLoader(&fakePage{sdk: sdk}, "client", "USD"), host)
	require.NoError(t, c.Bind(context.Background(), "P-1", "#paypal"))

	sdk.config().OnApprove(map[string]any{"orderID": "O-1"})
	sdk.config().OnApprove(map[string]any{"subscriptionID": ""})
	sdk.config().OnApprove(map[string]any{"subscriptionID": 42})
	sdk.config().OnApprove(nil)

	assert.Empty(t, host.approvals)
	assert.Empty(t, host.failures)
	assert.Equal(t, StateRendered, c.State())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProviderErrorForwardedVerbatim(t *testing.T) {
	sdk := &fakeSDK{}
	host := &recordingHost{}
	c := NewController("client", NewLoader(&fakePage{sdk: sdk}, "client", "USD"), host)
	require.NoError(t, c.Bind(context.Background(), "P-1", "#paypal"))

	providerErr := errors.New("INSTRUMENT_DECLINED")
	sdk.config().OnError(providerErr)

	require.Len(t, host.failures, 1)
	assert.ErrorIs(t, host.failures[0], providerErr)
	assert.ErrorIs(t, host.failures[0], billing.ErrProviderCallback)
	assert.Empty(t, host.approvals)
	assert.Equal(t, StateErrored, c.State())

	_, err := c.Wait(context.Background())
	assert.ErrorIs(t, err, providerErr)
}

func TestBindLoadFailure(t *testing.T) {
	page := &fakePage{sdk: &fakeSDK{}, injectErr: errors.New("blocked")}
	host := &recordingHost{}
	c := NewController("client", NewLoader(page, "client", "USD"), host)

	err := c.Bind(context.Background(), "P-1", "#paypal")
	require.ErrorIs(t, err, billing.ErrSdkLoad)
	assert.Equal(t, StateErrored, c.State())
	require.Len(t, host.failures, 1)

	// an explicit retry may succeed
	page.mu.Lock()
	page.injectErr = nil
	page.mu.Unlock()
	require.NoError(t, c.Bind(context.Background(), "P-1", "#paypal"))
	assert.Equal(t, StateRendered, c.State())
}

func TestWaitAfterRecoveredLoadFailure(t *testing.T) {
	sdk := &fakeSDK{}
	page := &fakePage{sdk: sdk, injectErr: errors.New("blocked")}
	host := &recordingHost{}
	c := NewController("client", NewLoader(page, "client", "USD"), host)
	ctx := context.Background()

	require.ErrorIs(t, c.Bind(ctx, "P-1", "#paypal"), billing.ErrSdkLoad)
	_, err := c.Wait(ctx)
	require.ErrorIs(t, err, billing.ErrSdkLoad)

	page.mu.Lock()
	page.injectErr = nil
	page.mu.Unlock()
	require.NoError(t, c.Bind(ctx, "P-1", "#paypal"))

	pending, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = c.Wait(pending)
	require.ErrorIs(t, err, context.DeadlineExceeded, "a recovered bind waits for a new outcome")

	sdk.config().OnApprove(map[string]any{"subscriptionID": "I-SUB-9"})
	assert.Equal(t, StateApproved, c.State())

	got, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "I-SUB-9", got.SubscriptionID)
	assert.Len(t, host.approvals, 1)
}

func TestBindRenderFailure(t *testing.T) {
	sdk := &fakeSDK{renderErr: errors.New("mount not found")}
	host := &recordingHost{}
	c := NewController("client", NewLoader(&fakePage{sdk: sdk}, "client", "USD"), host)

	err := c.Bind(context.Background(), "P-1", "#missing")
	require.ErrorIs(t, err, billing.ErrProviderCallback)
	assert.Equal(t, StateErrored, c.State())
	assert.Equal(t, 0, sdk.openWidgets())
}

func TestCloseRemovesWidget(t *testing.T) {
	sdk := &fakeSDK{}
	c := NewController("client", NewLoader(&fakePage{sdk: sdk}, "client", "USD"), nil)
	require.NoError(t, c.Bind(context.Background(), "P-1", "#paypal"))

	require.NoError(t, c.Close())
	assert.Equal(t, 0, sdk.openWidgets())
	require.NoError(t, c.Close())
}

func TestHostFuncs(t *testing.T) {
	var got SubscriptionApproval
	var failed error
	h := HostFuncs{
		OnApproved: func(a SubscriptionApproval) { got = a },
		OnFailed:   func(err error) { failed = err },
	}
	h.Approved(SubscriptionApproval{SubscriptionID: "I-1"})
	h.Failed(errors.New("x"))
	assert.Equal(t, "I-1", got.SubscriptionID)
	assert.EqualError(t, failed, "x")

	HostFuncs{}.Approved(SubscriptionApproval{})
	HostFuncs{}.Failed(errors.New("ignored"))
}
