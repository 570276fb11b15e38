// Package provider defines the uniform download-source contract and the
// aggregator that merges several sources behind it.
package provider

import (
	"context"
	"time"
)

// Provider is a download source adapter. All sources expose the same
// search/download/transfer surface so the outer API layer never needs to
// distinguish between them.
type Provider interface {
	// Name identifies the adapter in merged results.
	Name() string

	// CanHandleDownload reports whether this adapter owns the given link
	// or transfer identifier.
	CanHandleDownload(link string) bool

	// AddDownload accepts a link this adapter claims and returns the
	// transfer hash.
	AddDownload(ctx context.Context, link, category string) (string, error)

	PauseDownload(ctx context.Context, hash string) error
	ResumeDownload(ctx context.Context, hash string) error
	StopDownload(ctx context.Context, hash string) error
	RemoveDownload(ctx context.Context, hash string, deleteFiles bool) error

	// StartSearch begins an asynchronous search and returns its handle.
	StartSearch(ctx context.Context, query string) (string, error)
	GetSearchResults(ctx context.Context, id string, limit, offset int) ([]SearchResult, error)
	GetSearchStatus(ctx context.Context, id string) (*SearchStatus, error)

	GetTransfers(ctx context.Context) ([]Transfer, error)
	ClearCompletedTransfers(ctx context.Context) error
}

// SearchResult is one match from one adapter.
type SearchResult struct {
	Title    string    `json:"title"`
	Link     string    `json:"link"`
	FileName string    `json:"file_name,omitempty"`
	Size     int64     `json:"size"`
	Date     time.Time `json:"date"`
	Provider string    `json:"provider"`
}

// SearchStatus reports progress of an asynchronous search, 0-100.
type SearchStatus struct {
	ID       string  `json:"id"`
	Progress float64 `json:"progress"`
	Total    int     `json:"total"`
}

// Transfer is the provider-level view of a download, merged from persisted
// records and live manager state.
type Transfer struct {
	Hash       string    `json:"hash"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Downloaded int64     `json:"downloaded"`
	Speed      float64   `json:"speed"`
	State      string    `json:"state"`
	Category   string    `json:"category,omitempty"`
	Provider   string    `json:"provider"`
	AddedAt    time.Time `json:"added_at"`
}
