// Package mqttpub publishes ingested telemetry to an MQTT broker as a
// gateway.Observer. Grounded on mqtt_manager.py's MQTTManager: one topic
// per measurement under <prefix>/<node_id>/..., fire-and-forget QoS 0,
// with the broker client handling reconnects on its own.
package mqttpub

import (
	"fmt"
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	basestation "github.com/lss-lora/basestation"
)

// Config carries the broker connection settings and topic prefix.
type Config struct {
	Broker      string // e.g. "tcp://localhost:1883"
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Enabled     bool
	Logger      *logrus.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ClientID == "" {
		out.ClientID = "lss-basestation"
	}
	if out.TopicPrefix == "" {
		out.TopicPrefix = "lss"
	}
	out.TopicPrefix = strings.TrimRight(out.TopicPrefix, "/")
	if out.Logger == nil {
		out.Logger = logrus.StandardLogger()
	}
	return out
}

// Publisher is a gateway.Observer that republishes every ingested packet
// to MQTT. A disabled Publisher (Config.Enabled == false) is a harmless
// no-op, matching the original's behavior when paho isn't installed.
type Publisher struct {
	cfg     Config
	client  mqtt.Client
	enabled bool
}

// New constructs a Publisher and, if enabled, starts connecting to the
// broker asynchronously. The underlying client auto-reconnects for the
// life of the process.
func New(cfg Config) *Publisher {
	cfg = cfg.withDefaults()
	p := &Publisher{cfg: cfg}
	if !cfg.Enabled {
		return p
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(mqtt.Client) {
		cfg.Logger.WithField("broker", cfg.Broker).Info("mqtt connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		cfg.Logger.WithError(err).Warn("mqtt connection lost, reconnecting")
	}

	p.client = mqtt.NewClient(opts)
	p.enabled = true
	token := p.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			cfg.Logger.WithError(err).Error("mqtt initial connect failed")
		}
	}()
	return p
}

// Observe publishes every field of pkt to its own topic. It satisfies
// gateway.Observer.
func (p *Publisher) Observe(pkt *basestation.MultiSensorPacket) {
	if !p.enabled {
		return
	}
	for topic, payload := range topicsForPacket(p.cfg.TopicPrefix, pkt) {
		p.publish(topic, payload)
	}
}

// PublishOnlineStatus publishes the watchdog's online/offline verdict for
// a node as "1" or "0".
func (p *Publisher) PublishOnlineStatus(nodeID uint8, online bool) {
	if !p.enabled {
		return
	}
	payload := "0"
	if online {
		payload = "1"
	}
	p.publish(fmt.Sprintf("%s/%d/online", p.cfg.TopicPrefix, nodeID), payload)
}

// Close disconnects the MQTT client, waiting up to 250ms for in-flight
// publishes to drain.
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Disconnect(250)
	}
}

func (p *Publisher) publish(topic, payload string) {
	if p.client == nil {
		return
	}
	token := p.client.Publish(topic, 0, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.cfg.Logger.WithField("topic", topic).WithError(err).Debug("mqtt publish failed")
		}
	}()
}

// topicsForPacket computes every topic/payload pair a packet publishes.
// Split out as a pure function so the topic layout can be tested without
// a live broker.
func topicsForPacket(prefix string, pkt *basestation.MultiSensorPacket) map[string]string {
	nid := strconv.Itoa(int(pkt.SensorID))
	out := map[string]string{
		fmt.Sprintf("%s/%s/battery", prefix, nid):     strconv.Itoa(int(pkt.BatteryPercent)),
		fmt.Sprintf("%s/%s/power_state", prefix, nid): strconv.Itoa(int(pkt.PowerState)),
	}
	if pkt.RSSI != nil {
		out[fmt.Sprintf("%s/%s/rssi", prefix, nid)] = fmt.Sprintf("%.1f", float64(*pkt.RSSI))
	}
	if pkt.SNR != nil {
		out[fmt.Sprintf("%s/%s/snr", prefix, nid)] = fmt.Sprintf("%.2f", float64(*pkt.SNR))
	}
	for _, v := range pkt.Values {
		out[fmt.Sprintf("%s/%s/%s", prefix, nid, v.Name())] = fmt.Sprintf("%.4f", v.Value)
	}
	return out
}
