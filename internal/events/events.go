// Package events publishes vote activity for downstream consumers such as
// live counters or notification workers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectPostVotes    = "forum.votes.post"
	SubjectCommentVotes = "forum.votes.comment"
	SubjectPollVotes    = "forum.polls.vote"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
}

// VoteEvent describes one applied post or comment vote transition.
type VoteEvent struct {
	Kind      string    `json:"kind"`
	TargetID  int       `json:"target_id"`
	UserID    *int      `json:"user_id,omitempty"`
	Action    string    `json:"action"`
	Upvotes   int       `json:"upvotes"`
	Downvotes int       `json:"downvotes"`
	Timestamp time.Time `json:"timestamp"`
}

type PollVoteEvent struct {
	PollID     int       `json:"poll_id"`
	UserID     int       `json:"user_id"`
	OptionIDs  []int     `json:"option_ids"`
	TotalVotes int       `json:"total_votes"`
	Timestamp  time.Time `json:"timestamp"`
}

type NATSPublisher struct {
	conn *nats.Conn
}

func Connect(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("forum-api"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSPublisher(conn), nil
}

// NewNATSPublisher publishes on an existing connection and takes ownership
// of it: Close closes conn.
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

func (p *NATSPublisher) Publish(_ context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", subject, err)
	}
	return p.conn.Publish(subject, data)
}

// Close flushes buffered messages before closing the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Recorded
}

type Recorded struct {
	Subject string
	Event   any
}

func (r *Recorder) Publish(_ context.Context, subject string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Recorded{Subject: subject, Event: event})
	return nil
}

// Snapshot returns a copy of the events published so far.
func (r *Recorder) Snapshot() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.Events...)
}
