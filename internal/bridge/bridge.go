// Package bridge exposes pool snapshots to Home Assistant over MQTT
// discovery and routes select commands back to the portal.
package bridge

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"poolview/internal/indygo"
	"poolview/internal/mqtt"
	"poolview/internal/storage"
)

// CommandFunc applies a filtration mode change requested over MQTT
type CommandFunc func(ctx context.Context, moduleID string, mode int) error

// commandTimeout bounds the portal round-trips triggered by one MQTT command
const commandTimeout = 60 * time.Second

// Bridge publishes snapshots as Home Assistant entities
type Bridge struct {
	client    *mqtt.Client
	publisher *mqtt.Publisher
	discovery *mqtt.DiscoveryManager
	logger    *log.Logger
	onCommand CommandFunc

	mu sync.RWMutex
	// sanitized select entity ID -> module ID, rebuilt on every snapshot
	selectModules map[string]string
}

// New creates a Bridge wired to the given MQTT client
func New(client *mqtt.Client, store storage.Storage, logger *log.Logger, onCommand CommandFunc) *Bridge {
	return &Bridge{
		client:        client,
		publisher:     mqtt.NewPublisher(client, logger),
		discovery:     mqtt.NewDiscoveryManager(client, logger, store, "poolview"),
		logger:        logger,
		onCommand:     onCommand,
		selectModules: make(map[string]string),
	}
}

// Start announces availability and subscribes to select command topics
func (b *Bridge) Start() error {
	if err := b.publisher.PublishAvailability(true); err != nil {
		return err
	}

	prefix := b.client.GetConfig().Prefix
	return b.client.Subscribe(prefix+"/select/+/set", b.handleCommand)
}

// Stop announces the bridge as offline
func (b *Bridge) Stop() {
	prefix := b.client.GetConfig().Prefix
	if err := b.client.Unsubscribe(prefix + "/select/+/set"); err != nil && b.logger != nil {
		b.logger.Printf("[Bridge] Failed to unsubscribe: %v", err)
	}
	if err := b.publisher.PublishAvailability(false); err != nil && b.logger != nil {
		b.logger.Printf("[Bridge] Failed to publish offline state: %v", err)
	}
}

// PublishSnapshot pushes one refresh result to the broker: discovery configs
// when the entity set changed, then sensor states and select states.
func (b *Bridge) PublishSnapshot(snap *indygo.PoolSnapshot) {
	if snap == nil {
		return
	}

	configs, states, selects := b.buildEntities(snap)

	if b.discovery.ShouldRepublishDiscovery(len(configs)) {
		if err := b.discovery.PublishMultipleDiscoveryConfigs(configs); err != nil && b.logger != nil {
			b.logger.Printf("[Bridge] Discovery publish failed: %v", err)
		}
	}

	b.publisher.PublishMultipleSensors(states)

	selectModules := make(map[string]string, len(selects))
	for _, sel := range selects {
		selectModules[sel.entityID] = sel.moduleID
		if sel.option != "" {
			if err := b.publisher.PublishSelectState(sel.entityID, sel.option); err != nil && b.logger != nil {
				b.logger.Printf("[Bridge] Failed to publish select %s: %v", sel.entityID, err)
			}
		}
	}

	b.mu.Lock()
	b.selectModules = selectModules
	b.mu.Unlock()

	if err := b.publisher.PublishAvailability(true); err != nil && b.logger != nil {
		b.logger.Printf("[Bridge] Failed to refresh availability: %v", err)
	}
}

// handleCommand routes an inbound select command to the portal write path.
// Runs on the paho router goroutine, so the portal call is dispatched async.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	entityID := selectEntityFromTopic(topic)
	if entityID == "" {
		return
	}

	b.mu.RLock()
	moduleID, ok := b.selectModules[entityID]
	b.mu.RUnlock()
	if !ok {
		if b.logger != nil {
			b.logger.Printf("[Bridge] Command for unknown entity %s ignored", entityID)
		}
		return
	}

	option := string(payload)
	mode, ok := modeFromOption(option)
	if !ok {
		if b.logger != nil {
			b.logger.Printf("[Bridge] Unsupported filtration option %q for module %s", option, moduleID)
		}
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		if err := b.onCommand(ctx, moduleID, mode); err != nil {
			if b.logger != nil {
				b.logger.Printf("[Bridge] Filtration command failed for module %s: %v", moduleID, err)
			}
			return
		}

		// Optimistic state so the UI settles before the next poll
		if err := b.publisher.PublishSelectState(entityID, option); err != nil && b.logger != nil {
			b.logger.Printf("[Bridge] Failed to echo select state: %v", err)
		}
	}()
}

type selectEntity struct {
	entityID string
	moduleID string
	option   string
}

// buildEntities flattens a snapshot into discovery configs, sensor states
// and filtration selects, in deterministic order.
func (b *Bridge) buildEntities(snap *indygo.PoolSnapshot) ([]*mqtt.SensorConfig, []*mqtt.SensorData, []selectEntity) {
	device := deviceInfo(snap)

	var configs []*mqtt.SensorConfig
	var states []*mqtt.SensorData
	var selects []selectEntity

	appendReading := func(id string, reading indygo.SensorReading) {
		entityID := b.publisher.SanitizedID(id)

		cfg := &mqtt.SensorConfig{
			SensorID:          entityID,
			Name:              reading.Name,
			Component:         mqtt.ComponentSensor,
			Unit:              reading.Unit,
			StateTopic:        "sensor/" + entityID + "/state",
			DeviceClass:       reading.DeviceClass,
			StateClass:        reading.StateClass,
			EntityCategory:    string(reading.Category),
			AvailabilityTopic: "status",
			DeviceInfo:        device,
		}
		if len(reading.Attributes) > 0 {
			cfg.AttributesTopic = "sensor/" + entityID + "/attributes"
		}
		configs = append(configs, cfg)

		states = append(states, &mqtt.SensorData{
			ID:         id,
			Label:      reading.Name,
			Value:      reading.Value,
			Attributes: reading.Attributes,
		})
	}

	for _, key := range sortedKeys(snap.Sensors) {
		appendReading(key, snap.Sensors[key])
	}

	for _, moduleID := range sortedModuleIDs(snap.Modules) {
		module := snap.Modules[moduleID]

		for _, key := range sortedKeys(module.Sensors) {
			appendReading(moduleID+"_"+key, module.Sensors[key])
		}

		if module.FiltrationProgram == nil {
			continue
		}

		entityID := b.publisher.SanitizedID("filtration_mode_" + moduleID)
		name := "Filtration mode"
		if module.Name != "" {
			name = module.Name + " filtration mode"
		}

		configs = append(configs, &mqtt.SensorConfig{
			SensorID:          entityID,
			Name:              name,
			Component:         mqtt.ComponentSelect,
			StateTopic:        "select/" + entityID + "/state",
			CommandTopic:      "select/" + entityID + "/set",
			Options:           modeOptions(),
			AvailabilityTopic: "status",
			DeviceInfo:        device,
		})

		selects = append(selects, selectEntity{
			entityID: entityID,
			moduleID: moduleID,
			option:   currentModeOption(module.FiltrationProgram),
		})
	}

	return configs, states, selects
}

func deviceInfo(snap *indygo.PoolSnapshot) *mqtt.DeviceInfo {
	name := "MyIndygo pool"
	if snap.Address != "" {
		name = "MyIndygo pool " + snap.Address
	}
	return &mqtt.DeviceInfo{
		Identifiers:  []string{"poolview_" + snap.PoolID},
		Name:         name,
		Model:        "MyIndygo",
		Manufacturer: "Hydrapool",
	}
}

func sortedKeys(m map[string]indygo.SensorReading) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedModuleIDs(m map[string]indygo.ModuleRecord) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// selectEntityFromTopic extracts the entity ID from "<prefix>/select/<id>/set"
func selectEntityFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[len(parts)-1] != "set" || parts[len(parts)-3] != "select" {
		return ""
	}
	return parts[len(parts)-2]
}
