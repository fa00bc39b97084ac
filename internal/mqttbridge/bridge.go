// Package mqttbridge feeds device telemetry published over MQTT into the
// correlation engine, for deployments where wearables cannot speak HTTP.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"vitalink/internal/engine"
	"vitalink/internal/keys"
	"vitalink/internal/models"
	"vitalink/internal/store"
)

// topicFilter matches vitalink/<device-key>/ingest; the key segment carries
// the same opaque credential the HTTP headers do.
const topicFilter = "vitalink/+/ingest"

const connectTimeout = 10 * time.Second

// Ingester mirrors the engine surface the bridge drives.
type Ingester interface {
	Ingest(ctx context.Context, user *models.User, in engine.Partial) (engine.Result, error)
}

type payload struct {
	HeartRate     *float64 `json:"heartRate"`
	SpO2          *float64 `json:"spO2"`
	Emotion       *string  `json:"emotion"`
	Confidence    *float64 `json:"confidence"`
	Timestamp     *float64 `json:"timestamp"` // epoch millis
	DeviceID      *string  `json:"deviceId"`
	CorrelationID *string  `json:"correlationId"`
	Source        *string  `json:"source"`
}

// Bridge subscribes to the ingest topic on an external broker and resolves
// each message's device key before handing the reading to the engine.
// Messages that fail authentication or decoding are logged and dropped;
// MQTT gives us no useful way to report errors back to the producer.
type Bridge struct {
	client mqtt.Client
	users  store.UserStore
	eng    Ingester
	logger *zap.Logger
}

func New(brokerURL, clientID string, users store.UserStore, eng Ingester, logger *zap.Logger) *Bridge {
	b := &Bridge{users: users, eng: eng, logger: logger}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			if tok := c.Subscribe(topicFilter, 0, b.handle); tok.Wait() && tok.Error() != nil {
				logger.Error("mqtt subscribe failed", zap.Error(tok.Error()))
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		})

	b.client = mqtt.NewClient(opts)
	return b
}

// Start connects to the broker; subscription happens in the connect handler
// so it survives reconnects.
func (b *Bridge) Start() error {
	tok := b.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect: timeout")
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.logger.Info("mqtt bridge connected", zap.String("filter", topicFilter))
	return nil
}

func (b *Bridge) Stop() {
	b.client.Disconnect(250)
}

func (b *Bridge) handle(_ mqtt.Client, msg mqtt.Message) {
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) != 3 {
		b.logger.Warn("dropping message on unexpected topic", zap.String("topic", msg.Topic()))
		return
	}
	key := parts[1]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user, err := b.users.UserByKeyHash(ctx, keys.Hash(key))
	if err != nil {
		b.logger.Error("mqtt credential lookup failed", zap.Error(err))
		return
	}
	if user == nil {
		b.logger.Warn("dropping message with unknown device key")
		return
	}

	var p payload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		b.logger.Warn("dropping undecodable message", zap.Int("user_id", user.ID), zap.Error(err))
		return
	}

	in := engine.Partial{
		HeartRate:     p.HeartRate,
		SpO2:          p.SpO2,
		Emotion:       p.Emotion,
		Confidence:    p.Confidence,
		DeviceID:      p.DeviceID,
		CorrelationID: p.CorrelationID,
		Source:        p.Source,
	}
	if p.Timestamp != nil {
		t := time.UnixMilli(int64(*p.Timestamp)).UTC()
		in.Timestamp = &t
	}

	if _, err := b.eng.Ingest(ctx, user, in); err != nil {
		b.logger.Error("mqtt ingest failed", zap.Int("user_id", user.ID), zap.Error(err))
	}
}
