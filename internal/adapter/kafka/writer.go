package kafka

import (
	"context"
	"log/slog"
	"sort"

	"github.com/opencdms/cdm-feature-service/internal/config"
	"github.com/opencdms/cdm-feature-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// DeadLetterWriter forwards rejected observation messages to the dead-letter
// topic. It implements pipeline.DeadLetterer.
type DeadLetterWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewDeadLetterWriter creates a producer for cfg.KafkaDLQTopic.
func NewDeadLetterWriter(cfg *config.Config, logger *slog.Logger) *DeadLetterWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaDLQTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &DeadLetterWriter{writer: w, logger: logger}
}

// DeadLetter publishes the rejected messages in a single WriteMessages call.
func (w *DeadLetterWriter) DeadLetter(ctx context.Context, letters []domain.DeadLetter) error {
	if len(letters) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(letters))
	for i := range letters {
		msgs[i] = serializeDeadLetter(letters[i])
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return err
	}
	w.logger.Info("dead-lettered messages", "count", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *DeadLetterWriter) Close() error {
	return w.writer.Close()
}

// serializeDeadLetter keeps the original key and value untouched so the
// message can be replayed after a fix. Headers are sorted by key.
func serializeDeadLetter(dl domain.DeadLetter) kafkago.Message {
	keys := make([]string, 0, len(dl.Headers))
	for k := range dl.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headers := make([]kafkago.Header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(dl.Headers[k])})
	}
	return kafkago.Message{Key: dl.Key, Value: dl.Value, Headers: headers}
}
