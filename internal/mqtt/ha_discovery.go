package mqtt

import (
	"encoding/json"
	"log"
	"sync"

	"poolview/internal/storage"
)

// discoveryPublishedKey persists whether discovery configs were announced,
// so a restart does not spam the broker with retained duplicates.
const discoveryPublishedKey = "discoveryPublished"

// DiscoveryManager manages Home Assistant MQTT Discovery
type DiscoveryManager struct {
	mqttClient *Client
	logger     *log.Logger
	storage    storage.Storage
	domain     string

	// Cache of pre-generated discovery configs
	discoveryConfigs map[string][]byte
	discoveryMu      sync.RWMutex

	// State tracking
	lastEntityCount int
	mu              sync.RWMutex
}

// NewDiscoveryManager creates a new DiscoveryManager instance.
// domain names the discovery topic segment, e.g. "poolview".
func NewDiscoveryManager(client *Client, logger *log.Logger, store storage.Storage, domain string) *DiscoveryManager {
	return &DiscoveryManager{
		mqttClient:       client,
		logger:           logger,
		storage:          store,
		domain:           domain,
		discoveryConfigs: make(map[string][]byte),
		lastEntityCount:  0,
	}
}

// ShouldRepublishDiscovery checks if discovery configs should be republished
func (d *DiscoveryManager) ShouldRepublishDiscovery(currentEntityCount int) bool {
	// Check if discovery was published before
	published := false
	if d.storage != nil {
		if v, err := d.storage.GetBool(discoveryPublishedKey); err == nil {
			published = v
		}
	}

	d.mu.RLock()
	lastCount := d.lastEntityCount
	d.mu.RUnlock()

	// Republish if:
	// 1. Never published before
	// 2. Entity count changed (portal added or removed a sensor)
	shouldPublish := !published || currentEntityCount != lastCount

	if shouldPublish {
		d.mu.Lock()
		d.lastEntityCount = currentEntityCount
		d.mu.Unlock()
	}

	return shouldPublish
}

// PublishDiscoveryConfig publishes discovery config for a single entity
func (d *DiscoveryManager) PublishDiscoveryConfig(cfg *SensorConfig) error {
	if cfg == nil {
		return nil
	}

	configJSON := d.generateDiscoveryConfig(cfg)
	if configJSON == nil {
		return nil
	}

	component := cfg.Component
	if component == "" {
		component = ComponentSensor
	}

	// Topic: homeassistant/{component}/{domain}/{entity_id}/config
	discoveryTopic := "homeassistant/" + string(component) + "/" + d.domain + "/" + cfg.SensorID + "/config"

	return d.mqttClient.PublishRaw(discoveryTopic, configJSON, true)
}

// PublishMultipleDiscoveryConfigs publishes discovery configs for multiple entities
func (d *DiscoveryManager) PublishMultipleDiscoveryConfigs(configs []*SensorConfig) error {
	for _, cfg := range configs {
		if err := d.PublishDiscoveryConfig(cfg); err != nil {
			if d.logger != nil {
				d.logger.Printf("[%s] Failed to publish discovery for %s: %v",
					d.domain, cfg.SensorID, err)
			}
		}
	}

	// Mark as published
	d.markDiscoveryPublished()

	if d.logger != nil {
		d.logger.Printf("[%s] Published MQTT discovery config for %d entities",
			d.domain, len(configs))
	}

	return nil
}

// generateDiscoveryConfig generates and caches Home Assistant discovery config
func (d *DiscoveryManager) generateDiscoveryConfig(cfg *SensorConfig) []byte {
	// Check cache first
	d.discoveryMu.RLock()
	if config, ok := d.discoveryConfigs[cfg.SensorID]; ok {
		d.discoveryMu.RUnlock()
		return config
	}
	d.discoveryMu.RUnlock()

	// Build configuration
	mqttCfg := d.mqttClient.GetConfig()

	discoveryConfig := map[string]interface{}{
		"name":        cfg.Name,
		"unique_id":   d.domain + "_" + cfg.SensorID,
		"state_topic": mqttCfg.Prefix + "/" + cfg.StateTopic,
	}

	// Add optional fields
	if cfg.Unit != "" {
		discoveryConfig["unit_of_measurement"] = cfg.Unit
	}

	if cfg.AttributesTopic != "" {
		discoveryConfig["json_attributes_topic"] = mqttCfg.Prefix + "/" + cfg.AttributesTopic
	}

	if cfg.DeviceClass != "" {
		discoveryConfig["device_class"] = cfg.DeviceClass
	}

	if cfg.StateClass != "" {
		discoveryConfig["state_class"] = cfg.StateClass
	}

	if cfg.EntityCategory != "" {
		discoveryConfig["entity_category"] = cfg.EntityCategory
	}

	if cfg.CommandTopic != "" {
		discoveryConfig["command_topic"] = mqttCfg.Prefix + "/" + cfg.CommandTopic
	}

	if len(cfg.Options) > 0 {
		discoveryConfig["options"] = cfg.Options
	}

	if cfg.AvailabilityTopic != "" {
		discoveryConfig["availability_topic"] = mqttCfg.Prefix + "/" + cfg.AvailabilityTopic
		discoveryConfig["payload_available"] = "online"
		discoveryConfig["payload_not_available"] = "offline"
	}

	// Device information for grouping in Home Assistant
	if cfg.DeviceInfo != nil {
		discoveryConfig["device"] = map[string]interface{}{
			"identifiers":  cfg.DeviceInfo.Identifiers,
			"name":         cfg.DeviceInfo.Name,
			"model":        cfg.DeviceInfo.Model,
			"manufacturer": cfg.DeviceInfo.Manufacturer,
		}
	}

	configJSON, err := json.Marshal(discoveryConfig)
	if err != nil {
		if d.logger != nil {
			d.logger.Printf("[%s] Failed to marshal discovery config: %v", d.domain, err)
		}
		return nil
	}

	// Cache for future use
	d.discoveryMu.Lock()
	d.discoveryConfigs[cfg.SensorID] = configJSON
	d.discoveryMu.Unlock()

	return configJSON
}

// markDiscoveryPublished marks discovery as published in storage
func (d *DiscoveryManager) markDiscoveryPublished() {
	if d.storage != nil {
		if err := d.storage.SetBool(discoveryPublishedKey, true); err != nil {
			if d.logger != nil {
				d.logger.Printf("[%s] Failed to mark discovery as published: %v",
					d.domain, err)
			}
		}
	}
}

// ResetDiscoveryState forces the next publish cycle to re-announce all entities
func (d *DiscoveryManager) ResetDiscoveryState() {
	d.discoveryMu.Lock()
	d.discoveryConfigs = make(map[string][]byte)
	d.discoveryMu.Unlock()

	if d.storage != nil {
		if err := d.storage.SetBool(discoveryPublishedKey, false); err != nil && d.logger != nil {
			d.logger.Printf("[%s] Failed to reset discovery state: %v", d.domain, err)
		}
	}
}
