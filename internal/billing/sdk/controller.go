package sdk

import (
	"context"
	"strings"
	"sync"

	"github.com/dukerupert/duobill/internal/billing"
)

type State int

const (
	StateUninitialized State = iota
	StateSDKReady
	StateRendered
	StateApproved
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSDKReady:
		return "sdkReady"
	case StateRendered:
		return "rendered"
	case StateApproved:
		return "approved"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// ButtonSDK is the capability the provider's global exposes.
type ButtonSDK interface {
	Render(ctx context.Context, mount string, cfg ButtonConfig) (Widget, error)
}

// Widget is one rendered button.
type Widget interface {
	Close() error
}

// Actions is what the provider hands the creation callback.
type Actions interface {
	CreateSubscription(ctx context.Context, planID string) (string, error)
}

// ButtonConfig carries the callbacks the provider invokes.
type ButtonConfig struct {
	CreateSubscription func(ctx context.Context, actions Actions) (string, error)
	OnApprove          func(data map[string]any)
	OnError            func(err error)
}

// SubscriptionApproval is handed to the host once per successful approval.
type SubscriptionApproval struct {
	SubscriptionID string `json:"subscriptionId"`
	PlanID         string `json:"planId"`
	Accepted       bool   `json:"accepted"`
}

// Host receives the button's outcome.
type Host interface {
	Approved(a SubscriptionApproval)
	Failed(err error)
}

// HostFuncs adapts two functions to Host. Nil fields are ignored.
type HostFuncs struct {
	OnApproved func(SubscriptionApproval)
	OnFailed   func(error)
}

func (h HostFuncs) Approved(a SubscriptionApproval) {
	if h.OnApproved != nil {
		h.OnApproved(a)
	}
}

func (h HostFuncs) Failed(err error) {
	if h.OnFailed != nil {
		h.OnFailed(err)
	}
}

// SDKLoader is satisfied by *Loader.
type SDKLoader interface {
	Ensure(ctx context.Context) (ButtonSDK, error)
}

type outcome struct {
	approval SubscriptionApproval
	err      error
}

// round is one attempt at getting an outcome. A Bind that recovers from an
// error starts a new round.
type round struct {
	done     chan struct{}
	result   outcome
	resolved bool
}

func newRound() *round {
	return &round{done: make(chan struct{})}
}

// Controller owns one subscription button: it loads the SDK, renders into a
// mount point, re-renders when the plan changes and reports the outcome.
type Controller struct {
	clientID string
	loader   SDKLoader
	host     Host

	// renderMu serializes Bind's render phase; mu guards the fields below.
	renderMu sync.Mutex
	mu       sync.Mutex
	state    State
	planID   string
	widget   Widget
	round    *round
}

func NewController(clientID string, loader SDKLoader, host Host) *Controller {
	if host == nil {
		host = HostFuncs{}
	}
	return &Controller{
		clientID: strings.TrimSpace(clientID),
		loader:   loader,
		host:     host,
		round:    newRound(),
	}
}

// Bind renders the button for planID into mount, replacing any button
// already rendered by this controller. Without a client id, a plan id or a
// mount point it does nothing.
func (c *Controller) Bind(ctx context.Context, planID, mount string) error {
	planID = strings.TrimSpace(planID)
	if c.clientID == "" || planID == "" || mount == "" {
		return nil
	}

	c.mu.Lock()
	c.planID = planID
	c.mu.Unlock()

	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	sdk, err := c.loader.Ensure(ctx)
	if err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	switch c.state {
	case StateErrored:
		c.round = newRound()
		c.state = StateSDKReady
	case StateUninitialized:
		c.state = StateSDKReady
	}
	old := c.widget
	c.widget = nil
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	w, err := sdk.Render(ctx, mount, ButtonConfig{
		CreateSubscription: c.createSubscription,
		OnApprove:          c.onApprove,
		OnError:            c.onError,
	})
	if err != nil {
		perr := &billing.ProviderCallbackError{Err: err}
		c.fail(perr)
		return perr
	}

	c.mu.Lock()
	c.widget = w
	if c.state == StateSDKReady || c.state == StateRendered {
		c.state = StateRendered
	}
	c.mu.Unlock()
	return nil
}

// State reports where the button is in its lifecycle.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close removes the rendered button, if any.
func (c *Controller) Close() error {
	c.mu.Lock()
	w := c.widget
	c.widget = nil
	c.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

// Wait blocks until the first approval or failure, or until ctx is done.
// After a failure, a successful Bind starts over and later Wait calls wait
// for the new outcome.
func (c *Controller) Wait(ctx context.Context) (SubscriptionApproval, error) {
	c.mu.Lock()
	r := c.round
	c.mu.Unlock()
	select {
	case <-r.done:
		return r.result.approval, r.result.err
	case <-ctx.Done():
		return SubscriptionApproval{}, ctx.Err()
	}
}

func (c *Controller) currentPlan() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.planID
}

func (c *Controller) createSubscription(ctx context.Context, actions Actions) (string, error) {
	return actions.CreateSubscription(ctx, c.currentPlan())
}

func (c *Controller) onApprove(data map[string]any) {
	a, ok := approvalFromPayload(data)
	if !ok {
		return
	}
	a.PlanID = c.currentPlan()

	c.mu.Lock()
	c.state = StateApproved
	c.mu.Unlock()

	c.host.Approved(a)
	c.resolve(outcome{approval: a})
}

func (c *Controller) onError(err error) {
	c.fail(&billing.ProviderCallbackError{Err: err})
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.state = StateErrored
	c.mu.Unlock()

	c.host.Failed(err)
	c.resolve(outcome{err: err})
}

func (c *Controller) resolve(o outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.round.resolved {
		return
	}
	c.round.resolved = true
	c.round.result = o
	close(c.round.done)
}

// approvalFromPayload reads the subscription id from the provider's approval
// data. PayPal sends subscriptionID; subscriptionId is accepted as well.
func approvalFromPayload(data map[string]any) (SubscriptionApproval, bool) {
	for _, key := range []string{"subscriptionID", "subscriptionId"} {
		if id, ok := data[key].(string); ok && strings.TrimSpace(id) != "" {
			return SubscriptionApproval{SubscriptionID: strings.TrimSpace(id), Accepted: true}, true
		}
	}
	return SubscriptionApproval{}, false
}
