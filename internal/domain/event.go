package domain

import (
	"context"
	"time"
)

// Message headers understood by the ingest path.
const (
	HeaderSourceID    = "cdm-source-id"
	HeaderError       = "cdm-error"
	HeaderOrigTopic   = "cdm-original-topic"
	HeaderOrigOffset  = "cdm-original-offset"
	HeaderRejectedAt  = "cdm-rejected-at"
	HeaderContentType = "content-type"
)

// RawEvent represents an unprocessed observation message from the ingest topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// DeadLetter is a rejected message forwarded for offline inspection.
type DeadLetter struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// NewDeadLetter wraps a raw event that failed to parse, recording why.
func NewDeadLetter(raw RawEvent, cause error) DeadLetter {
	headers := make(map[string]string, len(raw.Headers)+4)
	for k, v := range raw.Headers {
		headers[k] = v
	}
	headers[HeaderError] = cause.Error()
	headers[HeaderOrigTopic] = raw.Topic
	headers[HeaderOrigOffset] = formatOffset(raw.Partition, raw.Offset)
	headers[HeaderRejectedAt] = clock.Now().UTC().Format(time.RFC3339)
	return DeadLetter{Key: raw.Key, Value: raw.Value, Headers: headers}
}
