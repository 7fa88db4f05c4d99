package model

import "time"

// Envelope is the work item published to the Kafka lanes.
type Envelope struct {
	TaskID     string    `json:"task_id"` // message task ULID
	Priority   int       `json:"priority"`
	Attempt    int       `json:"attempt"` // retries already consumed when enqueued
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// StatusEvent is broadcast after every observed transition.
type StatusEvent struct {
	TaskID    string     `json:"task_id"`
	Status    TaskStatus `json:"status"`
	Recipient string     `json:"recipient"`
	Retries   int        `json:"retries"`
	Event     string     `json:"event"`
	CreatedBy *int64     `json:"created_by,omitempty"`
	At        time.Time  `json:"at"`
}

// EventFor snapshots t for broadcasting.
func EventFor(t *MessageTask, event string, at time.Time) StatusEvent {
	return StatusEvent{
		TaskID:    t.ID,
		Status:    t.Status,
		Recipient: t.Recipient,
		Retries:   t.Retries,
		Event:     event,
		CreatedBy: t.CreatedBy,
		At:        at,
	}
}
