package channel

import (
	"context"
	"fmt"
	"sync"

	"guesttrack/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// Transport is the broker connection the Manager subscribes through.
// Reconnection is owned by the Manager's state machine, not the
// transport, so implementations must not auto-reconnect.
type Transport interface {
	// Subscribe registers a handler for messages on a topic. It fails
	// if the broker is unreachable.
	Subscribe(topic string, handler func(payload []byte)) error
	// Unsubscribe tears down the topic subscription.
	Unsubscribe(topic string) error
	// OnConnectionLost registers a callback invoked when the broker
	// connection drops.
	OnConnectionLost(fn func(error))
	// Close shuts the transport down.
	Close()
}

// NewTransport creates a transport for the configured messaging backend.
func NewTransport(cfg *config.MessagingConfig) (Transport, error) {
	switch cfg.Backend {
	case "mqtt", "":
		return NewMQTTTransport(&cfg.MQTT), nil
	case "kafka":
		return NewKafkaTransport(&cfg.Kafka), nil
	default:
		return nil, fmt.Errorf("unknown messaging backend: %s", cfg.Backend)
	}
}

// --- MQTT ---

// MQTTTransport subscribes over a single MQTT connection.
type MQTTTransport struct {
	mu   sync.Mutex
	cfg  *config.MQTTConfig
	conn mqtt.Client
	lost func(error)
}

// NewMQTTTransport creates an MQTT transport. The connection is
// established lazily on first Subscribe.
func NewMQTTTransport(cfg *config.MQTTConfig) *MQTTTransport {
	return &MQTTTransport{cfg: cfg}
}

// OnConnectionLost registers the drop callback.
func (t *MQTTTransport) OnConnectionLost(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lost = fn
}

// connect dials the broker if not already connected. Caller holds t.mu.
func (t *MQTTTransport) connect() error {
	if t.conn != nil && t.conn.IsConnected() {
		return nil
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "guesttrack-" + uuid.New().String()[:8]
	}
	broker := fmt.Sprintf("tcp://%s:%d", t.cfg.Broker, t.cfg.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			t.mu.Lock()
			fn := t.lost
			t.mu.Unlock()
			if fn != nil {
				fn(err)
			}
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	t.conn = client
	return nil
}

// Subscribe connects if needed and subscribes to the topic at QoS 1.
func (t *MQTTTransport) Subscribe(topic string, handler func(payload []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.connect(); err != nil {
		return err
	}
	token := t.conn.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe removes the topic subscription.
func (t *MQTTTransport) Unsubscribe(topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || !t.conn.IsConnected() {
		return nil
	}
	token := t.conn.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

// Close disconnects from the broker.
func (t *MQTTTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Disconnect(250)
		t.conn = nil
	}
}

// --- Kafka ---

// KafkaTransport consumes status topics with one reader per topic.
type KafkaTransport struct {
	mu      sync.Mutex
	cfg     *config.KafkaConfig
	readers map[string]*kafkago.Reader
	lost    func(error)
}

// NewKafkaTransport creates a Kafka transport.
func NewKafkaTransport(cfg *config.KafkaConfig) *KafkaTransport {
	return &KafkaTransport{
		cfg:     cfg,
		readers: make(map[string]*kafkago.Reader),
	}
}

// OnConnectionLost registers the drop callback.
func (t *KafkaTransport) OnConnectionLost(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lost = fn
}

// Subscribe starts a reader loop for the topic. Each client gets its own
// consumer group so every subscriber sees all messages.
func (t *KafkaTransport) Subscribe(topic string, handler func(payload []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.readers[topic]; ok {
		return nil
	}

	groupID := t.cfg.GroupID
	if groupID == "" {
		groupID = "guesttrack-" + uuid.New().String()[:8]
	}
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: t.cfg.Brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	t.readers[topic] = reader

	go func() {
		for {
			msg, err := reader.ReadMessage(context.Background())
			if err != nil {
				t.mu.Lock()
				deliberate := t.readers[topic] != reader
				fn := t.lost
				t.mu.Unlock()
				if !deliberate && fn != nil {
					fn(err)
				}
				return
			}
			handler(msg.Value)
		}
	}()
	return nil
}

// Unsubscribe closes the topic's reader.
func (t *KafkaTransport) Unsubscribe(topic string) error {
	t.mu.Lock()
	reader, ok := t.readers[topic]
	if ok {
		delete(t.readers, topic)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return reader.Close()
}

// Close closes all readers.
func (t *KafkaTransport) Close() {
	t.mu.Lock()
	readers := t.readers
	t.readers = make(map[string]*kafkago.Reader)
	t.mu.Unlock()
	for _, r := range readers {
		r.Close()
	}
}
