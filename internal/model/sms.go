package model

import "strings"

// Channel selects the delivery adapter for a task.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
)

func (c Channel) String() string { return string(c) }

// ParseChannel normalizes input; empty => whatsapp.
// Returns (value, true) if valid; otherwise (whatsapp, false).
func ParseChannel(s string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "whatsapp":
		return ChannelWhatsApp, true
	case "sms":
		return ChannelSMS, true
	default:
		return ChannelWhatsApp, false
	}
}

func (c Channel) Valid() bool {
	return c == ChannelWhatsApp || c == ChannelSMS
}

// Lane is the Kafka topic class a work item travels on.
type Lane string

const (
	LaneExpress Lane = "express"
	LaneNormal  Lane = "normal"
)

// expressCutoff is the lowest-urgency priority still routed to the express lane.
const expressCutoff = 2

func (l Lane) String() string { return string(l) }

func (l Lane) Valid() bool {
	return l == LaneExpress || l == LaneNormal
}

// LaneFor maps a 0 (highest) .. 9 (lowest) priority onto a lane. Out-of-range
// values are clamped first.
func LaneFor(priority int) Lane {
	if ClampPriority(priority) <= expressCutoff {
		return LaneExpress
	}
	return LaneNormal
}

func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// SMS is the one-shot payload of the SMS channel.
type SMS struct {
	To     string `json:"to"`
	Text   string `json:"text"`
	Sender string `json:"sender"`
}
