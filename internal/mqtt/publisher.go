package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// availabilityTopic carries the online/offline birth and will payloads
const availabilityTopic = "status"

// Publisher provides MQTT publishing for pool sensor data
type Publisher struct {
	client *Client
	logger *log.Logger

	// Cache of sanitized sensor IDs, keyed by raw sensor key
	sensorIDCache   map[string]string
	sensorIDCacheMu sync.RWMutex
}

// NewPublisher creates a new Publisher instance
func NewPublisher(client *Client, logger *log.Logger) *Publisher {
	return &Publisher{
		client:        client,
		logger:        logger,
		sensorIDCache: make(map[string]string),
	}
}

// PublishSensorState publishes a single sensor's state and attributes
func (p *Publisher) PublishSensorState(data *SensorData) error {
	if data == nil {
		return nil
	}

	sensorID := p.SanitizedID(data.ID)

	// Publish state
	stateJSON, err := json.Marshal(data.Value)
	if err != nil {
		if p.logger != nil {
			p.logger.Printf("[MQTT Publisher] Failed to marshal sensor state: %v", err)
		}
		return err
	}

	if err := p.client.Publish("sensor/"+sensorID+"/state", stateJSON); err != nil {
		if p.logger != nil {
			p.logger.Printf("[MQTT Publisher] Failed to publish sensor %s state: %v", sensorID, err)
		}
		return err
	}

	// Publish attributes if present
	if len(data.Attributes) > 0 {
		attrsJSON, err := json.Marshal(data.Attributes)
		if err == nil {
			p.client.Publish("sensor/"+sensorID+"/attributes", attrsJSON)
		}
	}

	return nil
}

// PublishMultipleSensors publishes an array of sensors
func (p *Publisher) PublishMultipleSensors(sensors []*SensorData) error {
	for _, sensor := range sensors {
		if err := p.PublishSensorState(sensor); err != nil {
			// Log error but continue publishing others
			if p.logger != nil {
				p.logger.Printf("[MQTT Publisher] Failed to publish sensor %s: %v", sensor.ID, err)
			}
		}
	}
	return nil
}

// PublishSelectState publishes the current option of a select entity
func (p *Publisher) PublishSelectState(entityID, option string) error {
	topic := fmt.Sprintf("select/%s/state", p.SanitizedID(entityID))
	return p.client.PublishWithQoS(topic, 1, true, []byte(option))
}

// PublishAvailability announces the bridge as online or offline.
// Retained so Home Assistant sees the last known state after restarts.
func (p *Publisher) PublishAvailability(online bool) error {
	payload := "offline"
	if online {
		payload = "online"
	}
	return p.client.PublishWithQoS(availabilityTopic, 1, true, []byte(payload))
}

// PublishAggregated publishes the whole snapshot as one JSON message,
// 1 message instead of N for consumers that want the raw feed
func (p *Publisher) PublishAggregated(topic string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		if p.logger != nil {
			p.logger.Printf("[MQTT Publisher] Failed to marshal aggregated data: %v", err)
		}
		return err
	}

	return p.client.Publish(topic, payload)
}

// SanitizedID returns the cached MQTT-safe form of a sensor key
func (p *Publisher) SanitizedID(label string) string {
	// Check cache first
	p.sensorIDCacheMu.RLock()
	if id, ok := p.sensorIDCache[label]; ok {
		p.sensorIDCacheMu.RUnlock()
		return id
	}
	p.sensorIDCacheMu.RUnlock()

	// Generate and cache
	id := sanitizeSensorIDFast(label)

	p.sensorIDCacheMu.Lock()
	p.sensorIDCache[label] = id
	p.sensorIDCacheMu.Unlock()

	return id
}

// sanitizeSensorIDFast creates a safe ID for MQTT topics
// using byte operations to avoid per-publish allocations
func sanitizeSensorIDFast(name string) string {
	b := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b[i] = c + ('a' - 'A') // to lowercase
		case c == ' ' || c == '/' || c == '.' || c == '-':
			b[i] = '_'
		default:
			b[i] = c
		}
	}
	return string(b)
}
