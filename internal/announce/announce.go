// Package announce publishes presence and runtime state over MQTT so
// home dashboards can see the agent. On every (re-)connect it publishes
// Home Assistant discovery configs and a birth message; a periodic loop
// pushes sensor states until shutdown, when a retained "offline" is
// left behind.
package announce

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"reeve/internal/buildinfo"
	"reeve/internal/config"
)

// StatsSource supplies the runtime values behind the published sensors.
// *brain.Brain's Stats method, wrapped in main, satisfies it without
// coupling this package to the pipeline.
type StatsSource func() map[string]any

// DeviceInfo is the Home Assistant device registry block shared by all
// discovery payloads, so the sensors group under one device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// SensorConfig is one HA MQTT sensor discovery payload.
type SensorConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
}

// Publisher manages the broker connection and the state loop.
type Publisher struct {
	cfg    config.MQTTConfig
	device DeviceInfo
	stats  StatsSource
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a publisher but does not connect; call Start.
func New(cfg config.MQTTConfig, stats StatsSource, logger *slog.Logger) *Publisher {
	return &Publisher{
		cfg: cfg,
		device: DeviceInfo{
			Identifiers:  []string{"reeve-" + cfg.DeviceName},
			Name:         cfg.DeviceName,
			Manufacturer: "Reeve",
			Model:        "Reeve Agent",
			SWVersion:    buildinfo.Version,
		},
		stats:  stats,
		logger: logger,
	}
}

// Start connects to the broker and runs the periodic publish loop. It
// blocks until ctx is cancelled. The connection carries a retained
// "offline" will so an unclean exit still flips availability.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "reeve-" + p.cfg.DeviceName,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, retrying in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes a retained "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

func (p *Publisher) baseTopic() string {
	return "reeve/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) discoveryTopic(entity string) string {
	return p.cfg.DiscoveryPrefix + "/sensor/" + p.cfg.DeviceName + "/" + entity + "/config"
}

type sensorDef struct {
	entity string
	config SensorConfig
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	avail := p.availabilityTopic()
	sensor := func(entity, name, icon, stateClass, category string) sensorDef {
		return sensorDef{
			entity: entity,
			config: SensorConfig{
				Name:              p.device.Name + " " + name,
				UniqueID:          p.device.Identifiers[0] + "_" + entity,
				StateTopic:        p.stateTopic(entity),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              icon,
				StateClass:        stateClass,
				EntityCategory:    category,
			},
		}
	}

	return []sensorDef{
		sensor("uptime", "Uptime", "mdi:clock-outline", "", "diagnostic"),
		sensor("version", "Version", "mdi:tag", "", "diagnostic"),
		sensor("requests", "Requests", "mdi:chat-processing", "total_increasing", ""),
		sensor("last_request", "Last Request", "mdi:clock-check", "", "diagnostic"),
		sensor("default_model", "Default Model", "mdi:brain", "", "diagnostic"),
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", s.entity, "error", err)
			continue
		}
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   p.discoveryTopic(s.entity),
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "entity", s.entity, "error", err)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

func (p *Publisher) runLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.publishStates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

// sensorStates maps the stats snapshot onto published sensor values.
func (p *Publisher) sensorStates() map[string]string {
	states := map[string]string{
		"uptime":        buildinfo.Uptime().Truncate(time.Second).String(),
		"version":       buildinfo.Version,
		"requests":      "0",
		"last_request":  "never",
		"default_model": "",
	}

	for k, v := range p.stats() {
		switch k {
		case "requests":
			states["requests"] = fmt.Sprintf("%v", v)
		case "default_model":
			if s, ok := v.(string); ok {
				states["default_model"] = s
			}
		case "last_request":
			if s, ok := v.(string); ok && s != "" {
				states["last_request"] = s
			}
		}
	}
	return states
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}

	states := p.sensorStates()
	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
		}
	}
	p.logger.Debug("mqtt sensor states published", "entities", len(states))
}
