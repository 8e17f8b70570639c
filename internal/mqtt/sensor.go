package mqtt

// Component identifies the Home Assistant entity type
type Component string

const (
	ComponentSensor       Component = "sensor"
	ComponentBinarySensor Component = "binary_sensor"
	ComponentSelect       Component = "select"
)

// SensorData represents sensor data for MQTT publishing
type SensorData struct {
	ID         string                 // Unique sensor ID (will be sanitized)
	Label      string                 // Human-readable label
	Value      interface{}            // Current value
	Attributes map[string]interface{} // Additional attributes
}

// SensorConfig contains entity configuration for Home Assistant Discovery
type SensorConfig struct {
	// Basic parameters
	SensorID  string    // Unique entity ID
	Name      string    // Display name
	Component Component // Entity type, defaults to sensor

	// Units of measurement
	Unit string // °C, %, mV, g/L, h, etc.

	// MQTT topics
	StateTopic      string // Topic for value
	AttributesTopic string // Topic for attributes

	// Home Assistant parameters
	DeviceClass    string // temperature, ph, voltage, duration, etc.
	StateClass     string // measurement, total, total_increasing
	EntityCategory string // diagnostic or config, empty for primary entities

	// Select entities
	CommandTopic string   // Topic Home Assistant publishes commands to
	Options      []string // Allowed select options

	// Availability
	AvailabilityTopic string // Availability topic

	// Device grouping
	DeviceInfo *DeviceInfo
}

// DeviceInfo contains device information for grouping in Home Assistant
type DeviceInfo struct {
	Identifiers  []string // Unique device identifiers
	Name         string   // Device name
	Model        string   // Model
	Manufacturer string   // Manufacturer
}
