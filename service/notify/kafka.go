package notify

import (
	"context"
	"encoding/json"
	"time"

	"fellowchat/logger"
	"fellowchat/tools/safe"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

// envelope is one offline-notification record on the wire. Downstream
// push workers consume the topic and talk to APNs/FCM; the gateway only
// produces.
type envelope struct {
	UserID  string         `json:"user_id"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
	At      int64          `json:"at"` // Unix ms
}

// KafkaNotifier publishes offline notifications fire-and-forget. Keyed by
// user id so one user's notifications stay on one partition, in order.
type KafkaNotifier struct {
	prod  sarama.AsyncProducer
	topic string
}

func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key 控制分区
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "kafka async producer")
	}
	n := &KafkaNotifier{prod: prod, topic: topic}
	safe.Go(func() {
		for perr := range prod.Errors() {
			logger.Warnf("notify produce: %v", perr)
		}
	})
	return n, nil
}

func (n *KafkaNotifier) Notify(_ context.Context, userID, kind string, payload map[string]any) {
	data, err := json.Marshal(envelope{
		UserID:  userID,
		Kind:    kind,
		Payload: payload,
		At:      time.Now().UnixMilli(),
	})
	if err != nil {
		logger.Warnf("notify marshal for %s: %v", userID, err)
		return
	}
	n.prod.Input() <- &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(userID),
		Value: sarama.ByteEncoder(data),
	}
}

func (n *KafkaNotifier) Close() error {
	return n.prod.Close()
}

// Noop drops everything; used when the notification pipeline is disabled.
type Noop struct{}

func (Noop) Notify(context.Context, string, string, map[string]any) {}
