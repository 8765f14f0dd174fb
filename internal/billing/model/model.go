package model

import "time"

// SubscriptionLink ties a provider subscription to the user who approved it.
type SubscriptionLink struct {
	ID                     int64     `json:"id"`
	UserID                 string    `json:"userId"`
	Provider               string    `json:"provider"`
	ProviderSubscriptionID string    `json:"subscriptionId"`
	PlanID                 string    `json:"planId"`
	CreatedAt              time.Time `json:"createdAt"`
}
