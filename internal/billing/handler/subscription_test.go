package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/duobill/internal/billing"
	"github.com/dukerupert/duobill/internal/billing/model"
	"github.com/dukerupert/duobill/internal/billing/paypal"
	"github.com/dukerupert/duobill/internal/billing/plan"
	"github.com/dukerupert/duobill/internal/billing/store"
	"github.com/dukerupert/duobill/internal/database"
)

type linkCounter struct {
	created, duplicate int
}

func (c *linkCounter) RecordSubscriptionLink(created bool) {
	if created {
		c.created++
	} else {
		c.duplicate++
	}
}

// fakeLookup answers from subs; ids it does not hold are unknown to PayPal.
type fakeLookup struct {
	subs  map[string]paypal.Subscription
	err   error
	env   billing.Environment
	calls int
}

func (f *fakeLookup) Subscription(_ context.Context, env billing.Environment, id string) (paypal.Subscription, error) {
	f.calls++
	f.env = env
	if f.err != nil {
		return paypal.Subscription{}, f.err
	}
	sub, ok := f.subs[id]
	if !ok {
		return paypal.Subscription{}, &billing.InvalidRequestError{Field: "subscriptionId", Msg: "unknown PayPal subscription"}
	}
	return sub, nil
}

func activeSub(id, planID string) paypal.Subscription {
	return paypal.Subscription{ID: id, PlanID: planID, Status: "ACTIVE"}
}

func setupSubscriptionHandler(t *testing.T, plans *plan.Registry, lookup *fakeLookup) (*SubscriptionHandler, *store.SubscriptionLinkStore, *linkCounter) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	links := store.NewSubscriptionLinkStore(db)
	counter := &linkCounter{}
	return NewSubscriptionHandler(links, lookup, billing.EnvSandbox, plans, counter, discardLogger()), links, counter
}

func postSubscription(h *SubscriptionHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/subscriptions/paypal", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.RecordPayPal(rec, req)
	return rec
}

func TestRecordPayPalCreatesThenReturnsExisting(t *testing.T) {
	lookup := &fakeLookup{subs: map[string]paypal.Subscription{"I-ABC123": activeSub("I-ABC123", "P-PM")}}
	h, links, counter := setupSubscriptionHandler(t, testRegistry(), lookup)

	body := `{"subscriptionId":" I-ABC123 ","planId":"P-PM","userId":"u1"}`
	rec := postSubscription(h, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var first model.SubscriptionLink
	if err := json.NewDecoder(rec.Body).Decode(&first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.ProviderSubscriptionID != "I-ABC123" || first.Provider != "paypal" || first.PlanID != "P-PM" {
		t.Errorf("link = %+v", first)
	}
	if lookup.env != billing.EnvSandbox {
		t.Errorf("lookup env = %q, want %q", lookup.env, billing.EnvSandbox)
	}

	rec = postSubscription(h, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat status = %d, want %d", rec.Code, http.StatusOK)
	}
	var second model.SubscriptionLink
	if err := json.NewDecoder(rec.Body).Decode(&second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("repeat ID = %d, want %d", second.ID, first.ID)
	}

	stored, err := links.GetByProviderID("paypal", "I-ABC123")
	if err != nil {
		t.Fatalf("GetByProviderID: %v", err)
	}
	if stored == nil || stored.UserID != "u1" {
		t.Errorf("stored = %+v", stored)
	}
	if counter.created != 1 || counter.duplicate != 1 {
		t.Errorf("metrics = %+v", counter)
	}
}

func TestRecordPayPalDuplicateForOtherUser(t *testing.T) {
	lookup := &fakeLookup{subs: map[string]paypal.Subscription{"I-1": activeSub("I-1", "P-PM")}}
	h, links, counter := setupSubscriptionHandler(t, testRegistry(), lookup)

	if rec := postSubscription(h, `{"subscriptionId":"I-1","planId":"P-PM","userId":"owner"}`); rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}

	rec := postSubscription(h, `{"subscriptionId":"I-1","planId":"P-PM","userId":"intruder"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if strings.Contains(rec.Body.String(), "owner") {
		t.Errorf("body %q leaks the stored user", rec.Body.String())
	}
	stored, _ := links.GetByProviderID("paypal", "I-1")
	if stored == nil || stored.UserID != "owner" {
		t.Errorf("stored = %+v, want owner kept", stored)
	}
	if counter.created != 1 || counter.duplicate != 0 {
		t.Errorf("metrics = %+v", counter)
	}
}

func TestRecordPayPalVerification(t *testing.T) {
	owned := activeSub("I-OWNED", "P-PM")
	owned.CustomID = "owner"
	pending := activeSub("I-PENDING", "P-PM")
	pending.Status = "APPROVAL_PENDING"
	lookup := &fakeLookup{subs: map[string]paypal.Subscription{
		"I-YEARLY":  activeSub("I-YEARLY", "P-PY"),
		"I-PENDING": pending,
		"I-OWNED":   owned,
	}}
	h, links, _ := setupSubscriptionHandler(t, testRegistry(), lookup)

	tests := []struct {
		name   string
		body   string
		status int
		want   string
	}{
		{"unknown to paypal", `{"subscriptionId":"I-NOPE","planId":"P-PM","userId":"u1"}`, http.StatusBadRequest, "unknown subscriptionId"},
		{"plan mismatch", `{"subscriptionId":"I-YEARLY","planId":"P-PM","userId":"u1"}`, http.StatusBadRequest, "planId does not match"},
		{"not active", `{"subscriptionId":"I-PENDING","planId":"P-PM","userId":"u1"}`, http.StatusBadRequest, "not active"},
		{"custom id names someone else", `{"subscriptionId":"I-OWNED","planId":"P-PM","userId":"u1"}`, http.StatusConflict, "another user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postSubscription(h, tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.want)
			}
		})
	}

	for _, id := range []string{"I-NOPE", "I-YEARLY", "I-PENDING", "I-OWNED"} {
		if l, _ := links.GetByProviderID("paypal", id); l != nil {
			t.Errorf("%s stored despite failing verification", id)
		}
	}

	rec := postSubscription(h, `{"subscriptionId":"I-OWNED","planId":"P-PM","userId":"owner"}`)
	if rec.Code != http.StatusCreated {
		t.Errorf("owner status = %d, want %d", rec.Code, http.StatusCreated)
	}
}

func TestRecordPayPalLookupFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"missing credentials", &billing.MissingCredentialsError{Provider: billing.ProviderPayPal, Environment: billing.EnvSandbox}, http.StatusServiceUnavailable},
		{"upstream", &billing.UpstreamBillingError{Provider: billing.ProviderPayPal, Status: 500, Message: "secret upstream detail"}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, links, _ := setupSubscriptionHandler(t, testRegistry(), &fakeLookup{err: tt.err})

			rec := postSubscription(h, `{"subscriptionId":"I-1","planId":"P-PM","userId":"u1"}`)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if strings.Contains(rec.Body.String(), "secret upstream detail") {
				t.Error("upstream error leaked to client")
			}
			if l, _ := links.GetByProviderID("paypal", "I-1"); l != nil {
				t.Error("stored without verification")
			}
		})
	}
}

func TestRecordPayPalValidation(t *testing.T) {
	lookup := &fakeLookup{}
	h, _, counter := setupSubscriptionHandler(t, testRegistry(), lookup)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{`, "invalid request body"},
		{"no subscription", `{"planId":"P-PM","userId":"u1"}`, "subscriptionId is required"},
		{"no user", `{"subscriptionId":"I-1","planId":"P-PM"}`, "userId is required"},
		{"no plan", `{"subscriptionId":"I-1","userId":"u1"}`, "planId is required"},
		{"unknown plan", `{"subscriptionId":"I-1","planId":"P-OTHER","userId":"u1"}`, "unknown planId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postSubscription(h, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.want)
			}
		})
	}
	if lookup.calls != 0 {
		t.Errorf("lookup calls = %d, want 0 for malformed requests", lookup.calls)
	}
	if counter.created != 0 || counter.duplicate != 0 {
		t.Errorf("metrics recorded for rejected requests: %+v", counter)
	}
}

func TestRecordPayPalAnyPlanWhenNoneConfigured(t *testing.T) {
	lookup := &fakeLookup{subs: map[string]paypal.Subscription{"I-1": activeSub("I-1", "P-ANY")}}
	h, _, _ := setupSubscriptionHandler(t, plan.New(nil, plan.Defaults{}), lookup)

	rec := postSubscription(h, `{"subscriptionId":"I-1","planId":"P-ANY","userId":"u1"}`)
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
}

type failingLinks struct{}

func (failingLinks) Create(model.SubscriptionLink) (*model.SubscriptionLink, bool, error) {
	return nil, false, errors.New("disk full")
}

func TestRecordPayPalStoreFailure(t *testing.T) {
	lookup := &fakeLookup{subs: map[string]paypal.Subscription{"I-1": activeSub("I-1", "P-PM")}}
	h := NewSubscriptionHandler(failingLinks{}, lookup, billing.EnvLive, testRegistry(), nil, discardLogger())

	rec := postSubscription(h, `{"subscriptionId":"I-1","planId":"P-PM","userId":"u1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if strings.Contains(rec.Body.String(), "disk full") {
		t.Error("store error leaked to client")
	}
}
