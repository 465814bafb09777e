package store

import (
	"encoding/json"
	"time"
)

// CampaignStatus is the persisted state of a campaign.
type CampaignStatus string

const (
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignAborted   CampaignStatus = "aborted"
)

// Campaign is the persisted summary of a campaign execution.
type Campaign struct {
	Key         string          `json:"key"`
	Scenario    string          `json:"scenario"`
	Status      CampaignStatus  `json:"status"`
	Minions     int             `json:"minions"`
	Report      json.RawMessage `json:"report,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Event is an execution event, appended to the log of its campaign.
type Event struct {
	ID        int64             `json:"id"`
	Campaign  string            `json:"campaign"`
	Sequence  int64             `json:"sequence"`
	Name      string            `json:"name"`
	Level     string            `json:"level"`
	Scenario  string            `json:"scenario,omitempty"`
	DAG       string            `json:"dag,omitempty"`
	Minion    string            `json:"minion,omitempty"`
	Step      string            `json:"step,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// CampaignUpdate holds the mutable fields of a campaign. Nil fields are left untouched.
type CampaignUpdate struct {
	Status      *CampaignStatus `json:"status,omitempty"`
	Report      json.RawMessage `json:"report,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// CampaignFilter specifies criteria for listing campaigns.
type CampaignFilter struct {
	Status   *CampaignStatus `json:"status,omitempty"`
	Scenario string          `json:"scenario,omitempty"`
	Limit    int             `json:"limit,omitempty"`
}

// EventFilter specifies criteria for listing the events of a campaign.
type EventFilter struct {
	Name  string `json:"name,omitempty"`
	Step  string `json:"step,omitempty"`
	Since int64  `json:"since,omitempty"`
	Limit int    `json:"limit,omitempty"`
}
