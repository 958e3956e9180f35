package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"waitroom/logger"
	"waitroom/module/waitroom"
	"waitroom/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// EventProducer publishes session lifecycle events; it implements
// waitroom.EventSink.
type EventProducer struct {
	producer sarama.SyncProducer
	topic    string
	source   string
}

var _ waitroom.EventSink = (*EventProducer)(nil)

// NewEventProducer wraps an existing producer; tests pass a mock.
func NewEventProducer(p sarama.SyncProducer, topic, source string) *EventProducer {
	return &EventProducer{producer: p, topic: topic, source: source}
}

// Dial connects to the brokers, optionally creates the topic and returns a
// ready producer.
func Dial(c Config, source string) (*EventProducer, error) {
	c.norm()
	if len(c.Brokers) == 0 {
		return nil, errs.ErrArgs.WrapMsg("kafka brokers missing")
	}
	cfg := BuildBaseConfig(c)
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", c.Brokers)
	}
	if c.EnsureTopic {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errs.WrapMsg(err, "kafka admin")
		}
		if err := EnsureTopic(admin, c); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka sync producer")
	}
	return NewEventProducer(p, c.Topic, source), nil
}

func (e *EventProducer) Publish(_ context.Context, ev waitroom.SessionEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return errs.WrapMsg(err, "marshal event")
	}
	key := ev.UserID
	if key == "" {
		key = ev.SessionID
	}
	msg := &sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(ev.Type)},
			{Key: []byte("source"), Value: []byte(e.source)},
			{Key: []byte("ts"), Value: []byte(strconv.FormatInt(ev.At.UnixMilli(), 10))},
		},
	}
	partition, offset, err := e.producer.SendMessage(msg)
	if err != nil {
		return errs.WrapMsg(err, "send event", "type", ev.Type, "session", ev.SessionID)
	}
	logger.Debug("[kafka] event sent", zap.String("type", string(ev.Type)),
		zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}

func (e *EventProducer) Close() error {
	return e.producer.Close()
}

// EnsureTopic creates the topic when missing.
func EnsureTopic(admin sarama.ClusterAdmin, c Config) error {
	defer func() { _ = admin.Close() }()
	descs, err := admin.DescribeTopics([]string{c.Topic})
	if err == nil && len(descs) == 1 && descs[0].Err == sarama.ErrNoError {
		logger.Info("[kafka] topic exists", zap.String("topic", c.Topic), zap.Int("partitions", len(descs[0].Partitions)))
		return nil
	}
	td := &sarama.TopicDetail{
		NumPartitions:     c.Partitions,
		ReplicationFactor: c.ReplicationFactor,
		ConfigEntries: map[string]*string{
			"cleanup.policy":   strPtr("delete"),
			"compression.type": strPtr("producer"),
		},
	}
	if err := admin.CreateTopic(c.Topic, td, false); err != nil {
		var te *sarama.TopicError
		if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
			return nil
		}
		return errs.WrapMsg(err, "create topic", "topic", c.Topic)
	}
	logger.Info("[kafka] topic created", zap.String("topic", c.Topic), zap.Int32("partitions", c.Partitions))
	return nil
}

func strPtr(s string) *string { return &s }
