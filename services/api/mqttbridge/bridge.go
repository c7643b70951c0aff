// Package mqttbridge feeds telemetry published on an MQTT broker into the
// dispatch ingestion service.
package mqttbridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/fieldops/dispatch-gateway/services/api/config"
	"github.com/fieldops/dispatch-gateway/services/api/dispatch"
	"github.com/fieldops/dispatch-gateway/services/api/metrics"
)

// Ingestor is the part of dispatch.Service the bridge drives.
type Ingestor interface {
	Authorize(ctx context.Context, key string) (dispatch.DispatchConfig, error)
	RecordPosition(ctx context.Context, f dispatch.Fields) (int64, error)
	Transmission(ctx context.Context, f dispatch.Fields) (dispatch.TransmissionResult, error)
	RecordTextMessage(ctx context.Context, f dispatch.Fields) (int64, error)
	RecordEmergency(ctx context.Context, f dispatch.Fields) (int64, error)
	RecordEvent(ctx context.Context, f dispatch.Fields) (int64, error)
}

// ErrUnknownTopic is returned for topics outside <prefix>/<device>/<kind>.
var ErrUnknownTopic = errors.New("unknown topic")

// kinds maps the last topic segment to the payload key the device segment
// fills when the payload omits it.
var kinds = map[string]string{
	dispatch.KindPosition:     "radio_dmr_id",
	dispatch.KindTransmission: "radio_dmr_id",
	dispatch.KindTextMessage:  "from_radio_dmr_id",
	dispatch.KindEmergency:    "radio_dmr_id",
	dispatch.KindEvent:        "radio_dmr_id",
}

const handleTimeout = 10 * time.Second

// Bridge subscribes to the dispatch topics and forwards each message.
type Bridge struct {
	cfg    config.MQTTConfig
	svc    Ingestor
	logger zerolog.Logger
}

// New builds a bridge; Run connects it.
func New(cfg config.MQTTConfig, svc Ingestor, logger zerolog.Logger) *Bridge {
	return &Bridge{
		cfg:    cfg,
		svc:    svc,
		logger: logger.With().Str("component", "mqtt").Logger(),
	}
}

// Topics returns the subscription filters, one per kind.
func Topics(prefix string) []string {
	prefix = strings.Trim(prefix, "/")
	topics := make([]string, 0, len(kinds))
	for _, kind := range []string{
		dispatch.KindPosition,
		dispatch.KindTransmission,
		dispatch.KindTextMessage,
		dispatch.KindEmergency,
		dispatch.KindEvent,
	} {
		topics = append(topics, prefix+"/+/"+kind)
	}
	return topics
}

// ParseTopic splits <prefix>/<device>/<kind>.
func ParseTopic(prefix, topic string) (device, kind string, err error) {
	prefix = strings.Trim(prefix, "/")
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if _, known := kinds[parts[1]]; !known {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return parts[0], parts[1], nil
}

// Handle routes one message through the gate and into the service.
func (b *Bridge) Handle(ctx context.Context, topic string, payload []byte) (string, error) {
	device, kind, err := ParseTopic(b.cfg.TopicPrefix, topic)
	if err != nil {
		return "", err
	}

	if _, err := b.svc.Authorize(ctx, b.cfg.APIKey); err != nil {
		return kind, err
	}

	f, err := dispatch.DecodeFields(payload)
	if err != nil {
		return kind, err
	}
	if key := kinds[kind]; !f.Present(key) {
		f[key] = device
	}

	switch kind {
	case dispatch.KindPosition:
		_, err = b.svc.RecordPosition(ctx, f)
	case dispatch.KindTransmission:
		_, err = b.svc.Transmission(ctx, f)
	case dispatch.KindTextMessage:
		_, err = b.svc.RecordTextMessage(ctx, f)
	case dispatch.KindEmergency:
		_, err = b.svc.RecordEmergency(ctx, f)
	case dispatch.KindEvent:
		_, err = b.svc.RecordEvent(ctx, f)
	}
	return kind, err
}

func (b *Bridge) onMessage(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		hctx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()

		kind, err := b.Handle(hctx, msg.Topic(), msg.Payload())
		if kind == "" {
			kind = "unknown"
		}
		switch {
		case err == nil:
			metrics.MQTTMessages.WithLabelValues(kind, metrics.OutcomeOK).Inc()
		case errors.Is(err, ErrUnknownTopic), dispatch.IsValidation(err),
			errors.Is(err, dispatch.ErrServiceDisabled), errors.Is(err, dispatch.ErrUnauthorized):
			metrics.MQTTMessages.WithLabelValues(kind, metrics.OutcomeRejected).Inc()
			b.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("mqtt message dropped")
		default:
			metrics.MQTTMessages.WithLabelValues(kind, metrics.OutcomeError).Inc()
			b.logger.Error().Err(err).Str("topic", msg.Topic()).Msg("mqtt message failed")
		}
	}
}

// Run connects, subscribes and blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	handler := b.onMessage(ctx)
	filters := make(map[string]byte)
	for _, t := range Topics(b.cfg.TopicPrefix) {
		filters[t] = 1
	}

	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.BrokerURL).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(false).
		SetConnectTimeout(10 * time.Second)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.SubscribeMultiple(filters, handler)
		token.Wait()
		if err := token.Error(); err != nil {
			b.logger.Error().Err(err).Msg("mqtt subscribe failed")
			return
		}
		b.logger.Info().Str("broker", b.cfg.BrokerURL).Strs("topics", Topics(b.cfg.TopicPrefix)).Msg("mqtt bridge subscribed")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Warn().Err(err).Msg("mqtt connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to mqtt broker: %w", token.Error())
	}

	<-ctx.Done()
	client.Disconnect(250)
	return nil
}
