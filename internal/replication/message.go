package replication

import (
	"time"

	"replicator/internal/clock"
)

// Message is one replicated write. The timestamp is assigned once by the
// coordinator and carried unchanged to every replica.
type Message struct {
	Key       string `cbor:"1,keyasint"`
	Value     string `cbor:"2,keyasint"`
	Timestamp int64  `cbor:"3,keyasint"` // Unix nanoseconds
}

// NewMessage builds a Message stamped with ts.
func NewMessage(key, value string, ts time.Time) Message {
	return Message{Key: key, Value: value, Timestamp: clock.ToWire(ts)}
}

// Time returns the message timestamp.
func (m Message) Time() time.Time {
	return clock.FromWire(m.Timestamp)
}

// Ack is the replica's answer to a Message.
type Ack struct {
	Applied bool `cbor:"1,keyasint"`
}

// JSONMessage is the HTTP body of a replicated write.
type JSONMessage struct {
	Key   string    `json:"key"`
	Value string    `json:"value"`
	Time  time.Time `json:"time"`
}

// JSON converts m for the HTTP transport.
func (m Message) JSON() JSONMessage {
	return JSONMessage{Key: m.Key, Value: m.Value, Time: m.Time()}
}

// Message converts an HTTP body back to a Message. A body without a time
// yields a zero Timestamp.
func (j JSONMessage) Message() Message {
	if j.Time.IsZero() {
		return Message{Key: j.Key, Value: j.Value}
	}
	return NewMessage(j.Key, j.Value, j.Time)
}
