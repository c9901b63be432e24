package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"wwcpsync/config"
)

const kafkaDialTimeout = 5 * time.Second

type kafkaBroker struct {
	cfg     config.KafkaConfig
	logger  *slog.Logger
	writer  *kafkago.Writer
	readers map[string]*kafkago.Reader
}

func newKafkaBroker(cfg config.KafkaConfig, logger *slog.Logger) *kafkaBroker {
	return &kafkaBroker{cfg: cfg, logger: logger, readers: make(map[string]*kafkago.Reader)}
}

// connect dials the first reachable broker to prove connectivity and to
// create missing topics, then sets up a writer over all brokers.
func (b *kafkaBroker) connect(topics []string) error {
	if len(b.cfg.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	conn, err := b.dialAny()
	if err != nil {
		return fmt.Errorf("kafka connect: %w", err)
	}
	b.createTopics(conn, topics)
	conn.Close()

	b.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(b.cfg.Brokers...),
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	return nil
}

func (b *kafkaBroker) dialAny() (*kafkago.Conn, error) {
	var errs []error
	for _, addr := range b.cfg.Brokers {
		ctx, cancel := context.WithTimeout(context.Background(), kafkaDialTimeout)
		conn, err := kafkago.DialContext(ctx, "tcp", addr)
		cancel()
		if err == nil {
			b.logger.Info("messaging: kafka connected", "broker", addr)
			return conn, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return nil, errors.Join(errs...)
}

// createTopics is best effort: brokers configured to auto-create topics
// work without it.
func (b *kafkaBroker) createTopics(conn *kafkago.Conn, topics []string) {
	if len(topics) == 0 {
		return
	}
	ctrl, err := conn.Controller()
	if err != nil {
		b.logger.Warn("messaging: kafka controller lookup", "error", err)
		return
	}
	ctrlConn, err := kafkago.Dial("tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
	if err != nil {
		b.logger.Warn("messaging: kafka controller dial", "error", err)
		return
	}
	defer ctrlConn.Close()

	cfgs := make([]kafkago.TopicConfig, 0, len(topics))
	for _, t := range topics {
		cfgs = append(cfgs, kafkago.TopicConfig{Topic: t, NumPartitions: 1, ReplicationFactor: 1})
	}
	if err := ctrlConn.CreateTopics(cfgs...); err != nil {
		b.logger.Warn("messaging: kafka create topics", "topics", topics, "error", err)
		return
	}
	b.logger.Info("messaging: kafka topics ready", "topics", topics)
}

func (b *kafkaBroker) publish(ctx context.Context, topic string, payload []byte) error {
	if b.writer == nil {
		return errors.New("kafka writer not initialized")
	}
	return b.writer.WriteMessages(ctx, kafkago.Message{Topic: topic, Value: payload})
}

// subscribe starts one consumer-group reader per topic. The reader stops
// when it is closed.
func (b *kafkaBroker) subscribe(topic string, handler func([]byte)) error {
	if _, ok := b.readers[topic]; ok {
		return fmt.Errorf("already subscribed to %s", topic)
	}
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: b.cfg.Brokers,
		Topic:   topic,
		GroupID: b.cfg.GroupID,
	})
	b.readers[topic] = r
	go func() {
		for {
			msg, err := r.ReadMessage(context.Background())
			if err != nil {
				b.logger.Info("messaging: kafka reader stopped", "topic", topic, "error", err)
				return
			}
			handler(msg.Value)
		}
	}()
	return nil
}

func (b *kafkaBroker) connected() bool { return b.writer != nil }

func (b *kafkaBroker) close() {
	if b.writer != nil {
		b.writer.Close()
		b.writer = nil
	}
	for topic, r := range b.readers {
		r.Close()
		delete(b.readers, topic)
	}
}
