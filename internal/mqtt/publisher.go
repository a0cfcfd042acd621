// Package mqtt publishes detection and verdict events to an MQTT broker so
// home-automation systems can react (flash lights, push to wearables).
package mqtt

import (
	"encoding/json"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/soundguardian/sentinel-go/internal/conf"
	"github.com/soundguardian/sentinel-go/internal/errors"
	"github.com/soundguardian/sentinel-go/internal/events"
	"github.com/soundguardian/sentinel-go/internal/logging"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Publisher forwards bus events to the configured broker. It registers as a
// bus consumer; its goroutine may block on the broker without affecting the
// detection pipeline.
type Publisher struct {
	client pahomqtt.Client
	topic  string
	log    *slog.Logger
}

// NewPublisher connects to the broker. Connection retries run in the
// background, a broker outage at startup is not fatal.
func NewPublisher(nodeName string, cfg *conf.MQTTSettings) (*Publisher, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(nodeName)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	log := logging.ForService("mqtt")
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		log.Info("connected to broker", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn("broker connection lost", "broker", cfg.Broker, "error", err)
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warn("broker connect still pending, continuing in background", "broker", cfg.Broker)
	} else if err := token.Error(); err != nil {
		return nil, errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("broker", cfg.Broker).
			Build()
	}

	return &Publisher{client: client, topic: cfg.Topic, log: log}, nil
}

// Name implements events.Consumer.
func (p *Publisher) Name() string { return "mqtt" }

// payloadFor maps a bus event to its subtopic and JSON payload. Audio level
// events are too chatty for a broker and are not forwarded.
func payloadFor(event events.Event) (subtopic string, payload any, ok bool) {
	switch ev := event.(type) {
	case events.DetectionEvent:
		return "detection", ev, true
	case events.TriggerEvent:
		return "trigger", ev.Context, true
	case events.VerdictEvent:
		return "verdict", ev, true
	default:
		return "", nil, false
	}
}

// Handle implements events.Consumer. Detections, triggers, and verdicts are
// published as JSON.
func (p *Publisher) Handle(event events.Event) {
	subtopic, payload, ok := payloadFor(event)
	if !ok {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("event marshal failed", "subtopic", subtopic, "error", err)
		return
	}

	if !p.client.IsConnected() {
		p.log.Debug("broker not connected, dropping event", "subtopic", subtopic)
		return
	}

	token := p.client.Publish(p.topic+"/"+subtopic, 0, false, body)
	if !token.WaitTimeout(publishTimeout) {
		p.log.Warn("publish timeout", "subtopic", subtopic)
		return
	}
	if err := token.Error(); err != nil {
		p.log.Error("publish failed", "subtopic", subtopic, "error", err)
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
