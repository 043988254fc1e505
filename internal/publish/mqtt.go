package publish

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kjannette/freq-response-backend/internal/models"
)

const mqttTimeout = 10 * time.Second

type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTTPublisher connects to broker and returns a publisher for topic.
func NewMQTTPublisher(broker, clientID, topic string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout)
	c := mqtt.NewClient(opts)
	if token := c.Connect(); !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return NewMQTTPublisherWithClient(c, topic), nil
}

func NewMQTTPublisherWithClient(c mqtt.Client, topic string) *MQTTPublisher {
	return &MQTTPublisher{client: c, topic: topic, qos: 1}
}

func (m *MQTTPublisher) Name() string { return "mqtt" }

// Publish sends one non-retained message per interval to
// <topic>/<interval start>.
func (m *MQTTPublisher) Publish(ctx context.Context, runID string, intervals []models.IntervalAverage) error {
	for _, iv := range intervals {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := encode(runID, iv)
		if err != nil {
			return fmt.Errorf("encode interval: %w", err)
		}
		topic := m.topic + "/" + iv.Interval.UTC().Format("2006-01-02T15:04Z")
		token := m.client.Publish(topic, m.qos, false, payload)
		if !token.WaitTimeout(mqttTimeout) {
			return fmt.Errorf("publish %s: timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return nil
}

func (m *MQTTPublisher) Close() error {
	m.client.Disconnect(250)
	return nil
}
