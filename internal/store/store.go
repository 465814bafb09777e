// Package store persists the campaigns and their execution events.
package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Campaigns
	CreateCampaign(ctx context.Context, campaign *Campaign) error
	GetCampaign(ctx context.Context, key string) (*Campaign, error)
	UpdateCampaign(ctx context.Context, key string, update CampaignUpdate) error
	ListCampaigns(ctx context.Context, filter CampaignFilter) ([]*Campaign, error)

	// Events (append-only). AppendEvents assigns the per-campaign sequences.
	AppendEvents(ctx context.Context, events []*Event) error
	ListEvents(ctx context.Context, campaign string, filter EventFilter) ([]*Event, error)

	Migrate(ctx context.Context) error
	Close() error
}
