package requestlog

import (
	"context"
	"time"
)

//Entry is one device API request as seen by the gateway
type Entry struct {
	At         time.Time     `json:"at"`
	RequestID  string        `json:"request_id,omitempty"`
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	RemoteAddr string        `json:"remote_addr"`
	HardwareID string        `json:"hardware_id,omitempty"`
	Status     int           `json:"status"`
	Duration   time.Duration `json:"duration_ns"`
}

//Sink receives request log entries and keeps a bounded number of the most recent ones
type Sink interface {
	Record(ctx context.Context, entry Entry) error
	//Recent returns up to limit entries, newest first. A limit <= 0 returns everything retained.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}
