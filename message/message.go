// Package message defines the immutable unit of work the writer pipeline
// moves from appender to service: a formatted log line and its cached
// UTF-8 byte length.
package message

import "unicode/utf8"

// Message is a formatted log event, ready to be batched and sent. It is
// immutable after construction.
type Message struct {
	timestamp int64
	text      string
	bytes     int
}

// New constructs a Message from an already-formatted line. timestamp is
// epoch milliseconds. The byte length is computed once, here, and cached.
func New(timestamp int64, text string) Message {
	return Message{
		timestamp: timestamp,
		text:      text,
		bytes:     len(text),
	}
}

// Timestamp returns the epoch-millisecond timestamp supplied at construction.
func (m Message) Timestamp() int64 { return m.timestamp }

// Text returns the formatted line.
func (m Message) Text() string { return m.text }

// ByteLength returns the cached UTF-8 byte length of Text.
func (m Message) ByteLength() int { return m.bytes }

// Truncate returns a copy of m whose Text is at most maxBytes UTF-8 bytes,
// cut on a rune boundary, with ByteLength recomputed. If m already fits,
// m is returned unchanged.
func (m Message) Truncate(maxBytes int) Message {
	if m.bytes <= maxBytes || maxBytes <= 0 {
		return m
	}
	b := []byte(m.text)
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return New(m.timestamp, string(b[:cut]))
}

// Less orders two messages by timestamp only. It is intentionally a
// partial order: two messages with equal timestamps compare as neither
// less than the other, and the queue (not this relation) is responsible
// for preserving insertion order among them.
func Less(a, b Message) bool {
	return a.timestamp < b.timestamp
}
