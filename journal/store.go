// Package journal keeps a local record of tracked runs.
package journal

import (
	"time"

	"github.com/google/uuid"
)

// Store persists tracked runs for later inspection.
type Store interface {
	// Init creates tables if they don't exist.
	Init() error

	// Close closes the store.
	Close() error

	// Record inserts or replaces an entry.
	Record(e Entry) error

	// List returns recent entries, newest first.
	List(limit int) ([]Entry, error)
}

// Entry is one tracked run as seen by this host.
type Entry struct {
	ID             string
	RunID          string
	ExperimentID   string
	ExperimentName string
	RunName        string
	TrackingURI    string
	Status         string
	Params         map[string]string
	Metrics        map[string]float64
	Error          string
	StartedAt      time.Time
	EndedAt        time.Time
}

// NewEntry returns an entry with a fresh local ID.
func NewEntry() Entry {
	return Entry{
		ID:      uuid.NewString(),
		Params:  make(map[string]string),
		Metrics: make(map[string]float64),
	}
}
