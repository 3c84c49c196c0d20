package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"diffdrive-core/closed_loop/calval"
	control "diffdrive-core/closed_loop/drive_control"
	"diffdrive-core/closed_loop/hal"
	"diffdrive-core/utils"
)

type MQTTConfig struct {
	Broker       string
	ClientID     string
	TopicPrefix  string
	QoS          byte
	OdomPeriodMs uint32
	WaitTimeout  time.Duration
}

func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:       "tcp://localhost:1883",
		ClientID:     "diffdrive-core",
		TopicPrefix:  "robot",
		OdomPeriodMs: 100,
		WaitTimeout:  50 * time.Millisecond,
	}
}

// mqttPublisher is the part of mqtt.Client the publisher uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher publishes odometry, status and procedure events as JSON.
// Odometry and status are retained so late subscribers see the last value.
type MQTTPublisher struct {
	client mqttPublisher
	cfg    MQTTConfig
	clock  hal.Clock
	log    *utils.Logger

	mu     sync.Mutex
	odom   throttle
	status throttle
	close  func()
}

// NewMQTTPublisher connects to the broker.
func NewMQTTPublisher(cfg MQTTConfig, clock hal.Clock, log *utils.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	log.Info("connected to MQTT broker at %s", cfg.Broker)
	p := newMQTTPublisher(client, cfg, clock, log)
	p.close = func() { client.Disconnect(250) }
	return p, nil
}

func newMQTTPublisher(client mqttPublisher, cfg MQTTConfig, clock hal.Clock, log *utils.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		cfg:    cfg,
		clock:  clock,
		log:    log,
		odom:   throttle{periodMs: cfg.OdomPeriodMs},
		status: throttle{periodMs: cfg.OdomPeriodMs},
	}
}

func (p *MQTTPublisher) topic(name string) string {
	return p.cfg.TopicPrefix + "/" + name
}

func (p *MQTTPublisher) publish(name string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Error("mqtt %s marshal: %v", name, err)
		return
	}
	token := p.client.Publish(p.topic(name), p.cfg.QoS, retained, payload)
	if token.WaitTimeout(p.cfg.WaitTimeout) && token.Error() != nil {
		p.log.Warn("mqtt publish %s: %v", p.topic(name), token.Error())
	}
}

func (p *MQTTPublisher) PublishOdometry(s control.OdomState) {
	p.mu.Lock()
	ok := p.odom.ready(p.clock.Millis())
	p.mu.Unlock()
	if ok {
		p.publish("odom", true, s)
	}
}

func (p *MQTTPublisher) PublishStatus(s control.Status) {
	p.mu.Lock()
	ok := p.status.ready(p.clock.Millis())
	p.mu.Unlock()
	if ok {
		p.publish("status", true, s)
	}
}

// Observe publishes every procedure transition; the final one carries the
// report.
func (p *MQTTPublisher) Observe(e calval.Event) {
	p.publish("calval", false, e)
}

func (p *MQTTPublisher) Close() {
	if p.close != nil {
		p.close()
	}
}
