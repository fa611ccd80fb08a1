// Package messaging publishes mission status to an MQTT broker or a Kafka
// cluster, with a SQLite outbox so reports survive a lost uplink.
package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	kafkago "github.com/segmentio/kafka-go"
)

type Config struct {
	// Backend is "mqtt" or "kafka".
	Backend  string
	Brokers  []string
	Topic    string
	ClientID string
}

// Client is the unified messaging client (MQTT or Kafka).
type Client struct {
	mu       sync.RWMutex
	cfg      Config
	mqttConn mqtt.Client
	kafkaW   *kafkago.Writer
}

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Connect establishes the messaging connection.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.cfg.Backend {
	case "mqtt":
		return c.connectMQTT()
	case "kafka":
		return c.connectKafka()
	default:
		return fmt.Errorf("unknown messaging backend: %s", c.cfg.Backend)
	}
}

func mqttBroker(b string) string {
	if strings.Contains(b, "://") {
		return b
	}
	return "tcp://" + b
}

func (c *Client) connectMQTT() error {
	opts := mqtt.NewClientOptions().
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	for _, b := range c.cfg.Brokers {
		opts.AddBroker(mqttBroker(b))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	// With connect retry enabled the token only completes once connected;
	// do not block startup on an absent broker.
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	c.mqttConn = client
	return nil
}

func (c *Client) connectKafka() error {
	c.kafkaW = &kafkago.Writer{
		Addr:         kafkago.TCP(c.cfg.Brokers...),
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
		WriteTimeout: 10 * time.Second,
	}
	return nil
}

// Publish sends payload to topic.
func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.cfg.Backend {
	case "mqtt":
		if c.mqttConn == nil || !c.mqttConn.IsConnected() {
			return fmt.Errorf("mqtt not connected")
		}
		token := c.mqttConn.Publish(topic, 1, false, payload)
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("mqtt publish timeout")
		}
		return token.Error()
	case "kafka":
		if c.kafkaW == nil {
			return fmt.Errorf("kafka writer not initialized")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return c.kafkaW.WriteMessages(ctx, kafkago.Message{
			Topic: topic,
			Value: payload,
		})
	default:
		return fmt.Errorf("unknown backend: %s", c.cfg.Backend)
	}
}

// IsConnected returns whether the messaging client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.cfg.Backend {
	case "mqtt":
		return c.mqttConn != nil && c.mqttConn.IsConnected()
	case "kafka":
		return c.kafkaW != nil
	default:
		return false
	}
}

// Close shuts down the messaging connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mqttConn != nil {
		c.mqttConn.Disconnect(1000)
		c.mqttConn = nil
	}
	if c.kafkaW != nil {
		c.kafkaW.Close()
		c.kafkaW = nil
	}
}
