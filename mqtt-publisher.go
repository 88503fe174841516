package main

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// MQTTPublisher pushes vehicle snapshots to a broker on a fixed
// schedule so downstream automations can consume them without polling
// the REST surface.
type MQTTPublisher struct {
	client   mqtt.Client
	topic    string
	interval time.Duration
	stop     chan struct{}
}

func NewMQTTPublisher() *MQTTPublisher {
	cfg := GetConfig()
	if cfg.MqttURL == "" {
		return nil
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MqttURL)
	opts.SetClientID("fordpass-ha")
	opts.SetUsername(cfg.MqttUser)
	opts.SetPassword(cfg.MqttPassword)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	return &MQTTPublisher{
		client:   mqtt.NewClient(opts),
		topic:    "fordpass/" + cfg.VIN + "/status",
		interval: 5 * time.Minute,
		stop:     make(chan struct{}),
	}
}

func (p *MQTTPublisher) Connect() error {
	token := p.client.Connect()
	token.Wait()
	return token.Error()
}

func (p *MQTTPublisher) Publish(status *VehicleStatus) {
	if status == nil || status.Raw == nil {
		return
	}
	token := p.client.Publish(p.topic, 0, true, []byte(status.Raw))
	token.Wait()
	if token.Error() != nil {
		log.Errorf("could not publish status: %v", token.Error())
	}
}

// Run polls the vehicle on the configured interval and publishes every
// snapshot until Stop is called.
func (p *MQTTPublisher) Run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			p.client.Disconnect(250)
			return
		case <-ticker.C:
			status, err := GetFordAPI().Status()
			if err != nil {
				log.Warnf("scheduled status fetch failed: %v", err)
				continue
			}
			GetStatusCache().Set(GetConfig().VIN, status)
			p.Publish(status)
		}
	}
}

func (p *MQTTPublisher) Stop() {
	close(p.stop)
}
