package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"asset-intake/internal/domain/asset"
)

// Publisher announces committed interactions to downstream consumers.
type Publisher interface {
	PublishInteraction(ctx context.Context, record asset.AssetRecord, interaction asset.InteractionRecord) error
	Close()
}

// Nop discards every notification.
type Nop struct{}

func (Nop) PublishInteraction(context.Context, asset.AssetRecord, asset.InteractionRecord) error {
	return nil
}

func (Nop) Close() {}

type Config struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
	Timeout  time.Duration
}

type MQTTPublisher struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	log     zerolog.Logger
}

// NewMQTTPublisher connects to the broker and returns a publisher for
// <topic>/interactions.
func NewMQTTPublisher(cfg Config, log zerolog.Logger) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "asset-intake-" + uuid.NewString()[:8]
	}

	log = log.With().Str("component", "notifier").Str("broker", cfg.Broker).Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect timeout after %s", cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	log.Info().Str("topic", cfg.Topic).Msg("connected to mqtt broker")
	return newPublisher(client, cfg.Topic, cfg.Timeout, log), nil
}

func newPublisher(client mqtt.Client, topic string, timeout time.Duration, log zerolog.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:  client,
		topic:   strings.TrimRight(topic, "/") + "/interactions",
		timeout: timeout,
		log:     log,
	}
}

type interactionMessage struct {
	Interaction asset.InteractionRecord `json:"interaction"`
	AssetID     uuid.UUID               `json:"asset_id"`
	Plate       string                  `json:"plate"`
	VIN         string                  `json:"vin"`
	Category    asset.Category          `json:"category"`
}

func (p *MQTTPublisher) PublishInteraction(ctx context.Context, record asset.AssetRecord, interaction asset.InteractionRecord) error {
	if !p.client.IsConnected() {
		return errors.New("not connected to mqtt broker")
	}

	payload, err := json.Marshal(interactionMessage{
		Interaction: interaction,
		AssetID:     record.ID,
		Plate:       record.Plate,
		VIN:         record.VIN,
		Category:    record.Category,
	})
	if err != nil {
		return fmt.Errorf("encode interaction message: %w", err)
	}

	token := p.client.Publish(p.topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return fmt.Errorf("mqtt publish timeout on %s", p.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}

	p.log.Debug().
		Str("topic", p.topic).
		Stringer("interaction_id", interaction.ID).
		Msg("published interaction")
	return nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
