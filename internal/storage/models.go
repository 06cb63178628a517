package storage

import (
	"encoding/json"
	"errors"
	"time"

	"runlens-backend/internal/logic"
)

var ErrNotFound = errors.New("not found")

// Run is one materialized LLM call record as the evaluator sees it.
type Run struct {
	ID                string          `json:"id"`
	ProjectID         string          `json:"projectId"`
	Type              string          `json:"type"`
	Name              string          `json:"name"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"createdAt"`
	Duration          float64         `json:"duration"` // seconds
	Cost              float64         `json:"cost"`
	PromptTokens      int             `json:"promptTokens"`
	CompletionTokens  int             `json:"completionTokens"`
	InputText         string          `json:"inputText"`
	OutputText        string          `json:"outputText"`
	ErrorText         string          `json:"errorText"`
	Feedback          json.RawMessage `json:"feedback"`
	Tags              []string        `json:"tags"`
	ExternalUserID    string          `json:"externalUserId"`
	TemplateVersionID string          `json:"templateVersionId"`
	Metadata          json.RawMessage `json:"metadata"`
	InputLanguages    []string        `json:"inputLanguages"`
	OutputLanguages   []string        `json:"outputLanguages"`
}

// Field returns the text of a run field addressed by check params
// ("input", "output", "error").
func (r *Run) Field(name string) string {
	switch name {
	case "input":
		return r.InputText
	case "output":
		return r.OutputText
	case "error":
		return r.ErrorText
	default:
		return ""
	}
}

// Radar is a saved (scope, predicate) pair scanned against new runs.
type Radar struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	OwnerID     string     `json:"ownerId,omitempty"`
	Description string     `json:"description"`
	View        logic.Node `json:"view"`
	Checks      logic.Node `json:"checks"`
	Negative    bool       `json:"negative"`
	Passed      int64      `json:"passed"`
	Failed      int64      `json:"failed"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// RadarResult is the append-only verdict for one (radar, run) pair. It
// doubles as the exclusion set for future scans.
type RadarResult struct {
	RadarID   string          `json:"radarId"`
	RunID     string          `json:"runId"`
	Passed    bool            `json:"passed"`
	Results   json.RawMessage `json:"results"`
	CreatedAt time.Time       `json:"createdAt"`
}

const (
	AlertHealthy   = "healthy"
	AlertTriggered = "triggered"
	AlertDisabled  = "disabled"
)

const (
	HistoryOngoing  = "ongoing"
	HistoryResolved = "resolved"
)

// Alert holds a threshold rule over a rolling metric window.
type Alert struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"projectId"`
	Name             string    `json:"name"`
	Status           string    `json:"status"`
	Threshold        float64   `json:"threshold"`
	Metric           string    `json:"metric"`
	TimeFrameMinutes int       `json:"timeFrameMinutes"`
	Emails           []string  `json:"emails"`
	WebhookURLs      []string  `json:"webhookUrls"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// AlertHistory is one triggered episode; at most one ongoing row exists
// per alert.
type AlertHistory struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alertId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Trigger   float64   `json:"trigger"`
	Status    string    `json:"status"`
}

// Enricher is a realtime evaluation rule: runs matching Filters get
// CheckID's evaluator applied and the outcome stored.
type Enricher struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"projectId"`
	CheckID   string          `json:"checkId"`
	Params    logic.Params    `json:"params"`
	Filters   logic.Node      `json:"filters"`
	CreatedAt time.Time       `json:"createdAt"`
}
