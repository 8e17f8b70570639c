package indygo

// SensorCategory mirrors the entity category hint used by smart-home
// platforms to separate measurements from diagnostics.
type SensorCategory string

const (
	CategoryNormal     SensorCategory = ""
	CategoryDiagnostic SensorCategory = "diagnostic"
)

// SensorReading is a single normalized sensor value. Readings are built once
// per refresh cycle and never mutated afterwards; consumers always see a
// complete snapshot or the previous one.
type SensorReading struct {
	Key         string                 `json:"key"`
	Name        string                 `json:"name"`
	Value       interface{}            `json:"value"`
	Unit        string                 `json:"unit,omitempty"`
	DeviceClass string                 `json:"deviceClass,omitempty"`
	StateClass  string                 `json:"stateClass,omitempty"`
	Category    SensorCategory         `json:"category,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
}

// ModuleRecord represents one piece of equipment attached to the pool
// (gateway, pool controller, IPX extension, ...).
type ModuleRecord struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`

	// Sensors holds readings scoped to this module.
	Sensors map[string]SensorReading `json:"sensors,omitempty"`

	// RawData keeps the module's merged source JSON for fields that are not
	// modeled yet. The vendor gives no schema guarantees, so anything not in
	// Sensors stays inspectable here.
	RawData map[string]interface{} `json:"rawData,omitempty"`

	// Programs is the vendor's program list exactly as returned.
	Programs []map[string]interface{} `json:"programs,omitempty"`

	// FiltrationProgram is the one program whose characteristics tag it as
	// the filtration schedule, or nil when the module has none.
	FiltrationProgram map[string]interface{} `json:"filtrationProgram,omitempty"`
}

// PoolSnapshot is the root aggregate produced by each refresh cycle. It is
// immutable after construction; a new snapshot wholesale replaces the old one.
type PoolSnapshot struct {
	PoolID  string `json:"poolId"`
	Address string `json:"address"`
	RelayID string `json:"relayId"`

	Sensors map[string]SensorReading `json:"sensors,omitempty"`
	Modules map[string]ModuleRecord  `json:"modules,omitempty"`

	// PoolStatus is the legacy positional status array keyed by index.
	PoolStatus map[string]SensorReading `json:"poolStatus,omitempty"`

	// RawData is the full merged source payload, kept for diagnostics.
	RawData map[string]interface{} `json:"rawData,omitempty"`
}

// Filtration mode values understood by the vendor.
const (
	FiltrationOff  = 0
	FiltrationOn   = 1
	FiltrationAuto = 2
)

// Vendor module type tags observed in the wild. The "lr-" prefix marks
// hardware on the long-range wireless backhaul.
const (
	ModuleTypeGateway        = "lr-mb-10"
	ModuleTypePoolController = "lr-pc"
	ModuleTypeIPX            = "ipx"
)

// filtrationProgramType is the programCharacteristics.programType value that
// marks a program as the filtration schedule.
const filtrationProgramType = 4
