package indygo

import (
	"fmt"
	"strconv"
)

// NormalizeOptions controls the few normalization behaviors the vendor data
// leaves genuinely ambiguous.
type NormalizeOptions struct {
	// EmitLegacyTemperature also emits the legacy sensorState water
	// temperature (index 0, centidegrees) as a separate diagnostic reading
	// even when the root temperature field already covers it. Off by default
	// to avoid duplicate entities downstream; the legacy value still serves
	// as a fallback when the root field is absent.
	EmitLegacyTemperature bool
}

// rootSensorSpec is the fixed mapping for known top-level status fields.
type rootSensorSpec struct {
	name        string
	deviceClass string
	stateClass  string
	unit        string
}

var rootSensors = map[string]rootSensorSpec{
	"temperature":  {name: "Water Temperature", deviceClass: "temperature", stateClass: "measurement", unit: "°C"},
	"ph":           {name: "pH", deviceClass: "ph", stateClass: "measurement"},
	"redox":        {name: "Redox", stateClass: "measurement", unit: "mV"},
	"orp":          {name: "ORP", stateClass: "measurement", unit: "mV"},
	"salt":         {name: "Salt", stateClass: "measurement", unit: "g/L"},
	"chlorineRate": {name: "Chlorine", stateClass: "measurement", unit: "ppm"},
}

// attrLastMeasurement is the extra-attribute key carrying the measurement
// timestamp reported alongside a value.
const attrLastMeasurement = "last_measurement_time"

// Normalize converts the merged portal payload into a PoolSnapshot. It is a
// pure function of its inputs: no I/O, deterministic, and therefore the unit
// test seam for the whole read path. Every field access treats "absent" or
// "wrong type" as "not available", never as an error — the vendor guarantees
// nothing about this payload.
func Normalize(merged map[string]interface{}, poolID, address, relayID string, opts NormalizeOptions) *PoolSnapshot {
	snap := &PoolSnapshot{
		PoolID:     poolID,
		Address:    address,
		RelayID:    relayID,
		Sensors:    make(map[string]SensorReading),
		Modules:    make(map[string]ModuleRecord),
		PoolStatus: make(map[string]SensorReading),
		RawData:    merged,
	}

	parseRootSensors(merged, snap)
	parseSensorState(merged, snap, opts)
	parseModules(merged, snap)
	parseScrapedIPX(merged, snap)
	parsePoolStatus(merged, snap)

	return snap
}

func parseRootSensors(merged map[string]interface{}, snap *PoolSnapshot) {
	for key, def := range rootSensors {
		value, ok := merged[key]
		if !ok || value == nil {
			continue
		}

		reading := SensorReading{
			Key:         key,
			Name:        def.name,
			Value:       value,
			Unit:        def.unit,
			DeviceClass: def.deviceClass,
			StateClass:  def.stateClass,
		}

		// Timestamps ride along as e.g. "temperatureTime".
		if ts := digString(merged, key+"Time"); ts != "" {
			reading.Attributes = map[string]interface{}{attrLastMeasurement: ts}
		}

		snap.Sensors[key] = reading
	}
}

// parseSensorState handles the legacy indexed sensor array. Index 0 is the
// water temperature in hundredths of a degree. The root temperature field
// supersedes it, so by default the legacy value only fills in when the root
// field is missing; EmitLegacyTemperature additionally surfaces it as its own
// diagnostic reading.
func parseSensorState(merged map[string]interface{}, snap *PoolSnapshot, opts NormalizeOptions) {
	states, ok := merged["sensorState"].([]interface{})
	if !ok {
		return
	}

	for _, item := range states {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		idx, idxOK := digNumber(entry, "index")
		val, valOK := digNumber(entry, "value")
		if !idxOK || !valOK || int(idx) != 0 {
			continue
		}

		scaled := val / 100.0

		if _, covered := snap.Sensors["temperature"]; !covered {
			snap.Sensors["temperature"] = SensorReading{
				Key:         "temperature",
				Name:        "Water Temperature",
				Value:       scaled,
				Unit:        "°C",
				DeviceClass: "temperature",
				StateClass:  "measurement",
			}
		}

		if opts.EmitLegacyTemperature {
			snap.Sensors["water_temp_sensor_state"] = SensorReading{
				Key:         "water_temp_sensor_state",
				Name:        "Water Temperature (Sensor State)",
				Value:       scaled,
				Unit:        "°C",
				DeviceClass: "temperature",
				StateClass:  "measurement",
				Category:    CategoryDiagnostic,
			}
		}
	}
}

func parseModules(merged map[string]interface{}, snap *PoolSnapshot) {
	modules, ok := merged["modules"].([]interface{})
	if !ok {
		return
	}

	for _, item := range modules {
		raw, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		id := stringID(raw["id"])
		if id == "" {
			continue
		}

		record := ModuleRecord{
			ID:      id,
			Type:    digString(raw, "type"),
			Name:    digString(raw, "name"),
			Sensors: make(map[string]SensorReading),
			RawData: raw,
		}
		if record.Type == "" {
			record.Type = "unknown"
		}
		if record.Name == "" {
			record.Name = fmt.Sprintf("Module %s", id)
		}

		if list, ok := raw["programs"].([]interface{}); ok {
			for _, p := range list {
				if prog, ok := p.(map[string]interface{}); ok {
					record.Programs = append(record.Programs, prog)
				}
			}
		}
		record.FiltrationProgram = findFiltrationProgram(record.Programs)

		// Type-specific nested fields. Unrecognized module types still get a
		// record with raw data retained.
		if record.Type == ModuleTypeIPX {
			if dur, ok := digNumber(raw, "ipxData", "totalElectrolyseDuration"); ok {
				record.Sensors["totalElectrolyseDuration"] = SensorReading{
					Key:      "totalElectrolyseDuration",
					Name:     "Electrolyse Duration",
					Value:    dur,
					Unit:     "h",
					Category: CategoryDiagnostic,
				}
			}
		}

		snap.Modules[id] = record
	}
}

// findFiltrationProgram picks the one program tagged with the filtration
// program type.
func findFiltrationProgram(programs []map[string]interface{}) map[string]interface{} {
	for _, prog := range programs {
		if t, ok := digNumber(prog, "programCharacteristics", "programType"); ok && int(t) == filtrationProgramType {
			return prog
		}
	}
	return nil
}

// Scraped IPX input probe types with a known meaning. Only the pH probe
// (type 6) is confirmed from observed installations.
var ipxInputProbes = map[int]string{
	6: "ph",
}

// parseScrapedIPX pulls sensors out of the ipx_module object scraped from
// the devices page. The outputs array is positional (index 0 = primary
// station, index 1 = secondary station); the vendor offers no stable keys
// here, so every path goes through dig and silently yields nothing when the
// layout differs.
func parseScrapedIPX(merged map[string]interface{}, snap *PoolSnapshot) {
	ipx, ok := merged["ipx_module"].(map[string]interface{})
	if !ok {
		return
	}
	outputs := ipx["outputs"]

	if salt := dig(outputs, 1, "ipxData", "saltValue"); salt != nil {
		snap.Sensors["ipx_salt"] = SensorReading{
			Key:        "ipx_salt",
			Name:       "Salt Level (IPX)",
			Value:      salt,
			Unit:       "g/L",
			StateClass: "measurement",
		}
	}
	if phSet := dig(outputs, 0, "ipxData", "pHSetpoint"); phSet != nil {
		snap.Sensors["ph_setpoint"] = SensorReading{
			Key:   "ph_setpoint",
			Name:  "pH Setpoint",
			Value: phSet,
		}
	}
	if prodSet := dig(outputs, 1, "ipxData", "percentageSetpoint"); prodSet != nil {
		snap.Sensors["production_setpoint"] = SensorReading{
			Key:   "production_setpoint",
			Name:  "Production Setpoint",
			Value: prodSet,
			Unit:  "%",
		}
	}
	if mode := dig(outputs, 1, "ipxData", "electrolyzerMode"); mode != nil {
		snap.Sensors["electrolyzer_mode"] = SensorReading{
			Key:      "electrolyzer_mode",
			Name:     "Electrolyzer Mode",
			Value:    mode,
			Category: CategoryDiagnostic,
		}
	}

	mergeScrapedInputs(ipx, snap)
}

// mergeScrapedInputs reconciles IPX input probes with root sensors. The
// authoritative JSON field wins when both exist; the scraped probe then only
// contributes its measurement timestamp. When the JSON field is absent, the
// probe's last value fills in.
func mergeScrapedInputs(ipx map[string]interface{}, snap *PoolSnapshot) {
	inputs, ok := ipx["inputs"].([]interface{})
	if !ok {
		return
	}

	for _, item := range inputs {
		input, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		probeType, ok := digNumber(input, "type")
		if !ok {
			continue
		}
		key, known := ipxInputProbes[int(probeType)]
		if !known {
			continue
		}

		value := dig(input, "lastValue", "value")
		date := digString(input, "lastValue", "date")

		if existing, ok := snap.Sensors[key]; ok {
			if date != "" {
				if existing.Attributes == nil {
					existing.Attributes = make(map[string]interface{})
				}
				if _, has := existing.Attributes[attrLastMeasurement]; !has {
					existing.Attributes[attrLastMeasurement] = date
					snap.Sensors[key] = existing
				}
			}
			continue
		}

		if value == nil {
			continue
		}
		def := rootSensors[key]
		reading := SensorReading{
			Key:         key,
			Name:        def.name,
			Value:       value,
			Unit:        def.unit,
			DeviceClass: def.deviceClass,
			StateClass:  def.stateClass,
		}
		if date != "" {
			reading.Attributes = map[string]interface{}{attrLastMeasurement: date}
		}
		snap.Sensors[key] = reading
	}
}

// parsePoolStatus maps the legacy positional "pool" status array into an
// index-keyed reading map. Only the index is stable; names are best effort.
func parsePoolStatus(merged map[string]interface{}, snap *PoolSnapshot) {
	items, ok := merged["pool"].([]interface{})
	if !ok {
		return
	}

	for i, item := range items {
		key := strconv.Itoa(i)
		entry, _ := item.(map[string]interface{})

		reading := SensorReading{
			Key:      key,
			Name:     fmt.Sprintf("Pool Status %d", i),
			Category: CategoryDiagnostic,
		}
		if entry != nil {
			if name := digString(entry, "name"); name != "" {
				reading.Name = name
			}
			if v, ok := entry["value"]; ok {
				reading.Value = v
			} else if v, ok := entry["status"]; ok {
				reading.Value = v
			}
		} else {
			reading.Value = item
		}

		snap.PoolStatus[key] = reading
	}
}
