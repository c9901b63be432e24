package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"wwcpsync/config"
)

const (
	mqttQoS             = 1
	mqttReconnectPeriod = 5 * time.Second
	mqttQuiesceMillis   = 1000
)

var errMQTTNotConnected = errors.New("mqtt not connected")

type mqttBroker struct {
	cfg  config.MQTTConfig
	conn mqtt.Client
}

func (b *mqttBroker) connect([]string) error {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", b.cfg.Broker, b.cfg.Port)).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(mqttReconnectPeriod)

	conn := mqtt.NewClient(opts)
	if tok := conn.Connect(); tok.Wait() && tok.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", tok.Error())
	}
	b.conn = conn
	return nil
}

// publish waits for the broker acknowledgement or ctx, whichever is first.
func (b *mqttBroker) publish(ctx context.Context, topic string, payload []byte) error {
	if !b.connected() {
		return errMQTTNotConnected
	}
	tok := b.conn.Publish(topic, mqttQoS, false, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *mqttBroker) subscribe(topic string, handler func([]byte)) error {
	if b.conn == nil {
		return errMQTTNotConnected
	}
	tok := b.conn.Subscribe(topic, mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	tok.Wait()
	return tok.Error()
}

func (b *mqttBroker) connected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func (b *mqttBroker) close() {
	if b.conn != nil {
		b.conn.Disconnect(mqttQuiesceMillis)
		b.conn = nil
	}
}
