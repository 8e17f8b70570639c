package indygo

import (
	"reflect"
	"testing"
)

func sampleMergedPayload() map[string]interface{} {
	return map[string]interface{}{
		"temperature":     25.5,
		"temperatureTime": "2023-01-01T12:00:00Z",
		"ph":              7.2,
		"modules": []interface{}{
			map[string]interface{}{
				"id":   "MOD1",
				"type": "ipx",
				"name": "Electrolyzer",
				"ipxData": map[string]interface{}{
					"totalElectrolyseDuration": 100.0,
				},
			},
		},
		"ipx_module": map[string]interface{}{
			"outputs": []interface{}{
				map[string]interface{}{
					"ipxData": map[string]interface{}{"pHSetpoint": 7.4},
				},
				map[string]interface{}{
					"ipxData": map[string]interface{}{
						"saltValue":          3.0,
						"percentageSetpoint": 80.0,
						"electrolyzerMode":   1.0,
					},
				},
			},
			"inputs": []interface{}{
				map[string]interface{}{"name": "", "type": 0.0},
				map[string]interface{}{
					"name": "",
					"type": 6.0,
					"lastValue": map[string]interface{}{
						"value": 6.9,
						"date":  "2023-01-01T11:58:00Z",
					},
				},
			},
		},
	}
}

func TestNormalize(t *testing.T) {
	snap := Normalize(sampleMergedPayload(), "POOL1", "ADDR1", "RELAY1", NormalizeOptions{})

	if snap.PoolID != "POOL1" || snap.Address != "ADDR1" || snap.RelayID != "RELAY1" {
		t.Fatalf("Identifiers not carried over: %+v", snap)
	}

	temp, ok := snap.Sensors["temperature"]
	if !ok {
		t.Fatal("Expected temperature sensor")
	}
	if temp.Value != 25.5 {
		t.Errorf("Expected temperature 25.5, got %v", temp.Value)
	}
	if temp.Attributes["last_measurement_time"] != "2023-01-01T12:00:00Z" {
		t.Errorf("Expected temperature timestamp attribute, got %v", temp.Attributes)
	}

	module, ok := snap.Modules["MOD1"]
	if !ok {
		t.Fatal("Expected module MOD1")
	}
	if module.Sensors["totalElectrolyseDuration"].Value != 100.0 {
		t.Errorf("Expected electrolyse duration 100, got %v", module.Sensors["totalElectrolyseDuration"].Value)
	}
	if module.Sensors["totalElectrolyseDuration"].Category != CategoryDiagnostic {
		t.Error("Expected electrolyse duration to be diagnostic")
	}

	if snap.Sensors["ph_setpoint"].Value != 7.4 {
		t.Errorf("Expected pH setpoint 7.4, got %v", snap.Sensors["ph_setpoint"].Value)
	}
	if snap.Sensors["ipx_salt"].Value != 3.0 {
		t.Errorf("Expected IPX salt 3.0, got %v", snap.Sensors["ipx_salt"].Value)
	}
	if snap.Sensors["production_setpoint"].Value != 80.0 {
		t.Errorf("Expected production setpoint 80, got %v", snap.Sensors["production_setpoint"].Value)
	}
	if snap.Sensors["electrolyzer_mode"].Category != CategoryDiagnostic {
		t.Error("Expected electrolyzer mode to be diagnostic")
	}
}

// The root JSON field is authoritative; the scraped probe with a different
// value only contributes its timestamp.
func TestNormalizeMergePrecedence(t *testing.T) {
	snap := Normalize(sampleMergedPayload(), "POOL1", "ADDR1", "RELAY1", NormalizeOptions{})

	ph, ok := snap.Sensors["ph"]
	if !ok {
		t.Fatal("Expected ph sensor")
	}
	if ph.Value != 7.2 {
		t.Errorf("Expected JSON ph 7.2 to win over scraped 6.9, got %v", ph.Value)
	}
	if ph.Attributes["last_measurement_time"] != "2023-01-01T11:58:00Z" {
		t.Errorf("Expected scraped timestamp carried as attribute, got %v", ph.Attributes)
	}
}

func TestNormalizeScrapedFallback(t *testing.T) {
	payload := sampleMergedPayload()
	delete(payload, "ph")

	snap := Normalize(payload, "POOL1", "ADDR1", "RELAY1", NormalizeOptions{})

	ph, ok := snap.Sensors["ph"]
	if !ok {
		t.Fatal("Expected scraped probe to fill in absent JSON ph")
	}
	if ph.Value != 6.9 {
		t.Errorf("Expected scraped ph 6.9, got %v", ph.Value)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	first := Normalize(sampleMergedPayload(), "POOL1", "ADDR1", "RELAY1", NormalizeOptions{})
	second := Normalize(sampleMergedPayload(), "POOL1", "ADDR1", "RELAY1", NormalizeOptions{})

	if !reflect.DeepEqual(first.Sensors, second.Sensors) {
		t.Error("Expected identical sensor maps on identical input")
	}
	if !reflect.DeepEqual(first.Modules, second.Modules) {
		t.Error("Expected identical module maps on identical input")
	}
}

func TestNormalizeLegacyTemperature(t *testing.T) {
	tests := []struct {
		name           string
		withRootTemp   bool
		emitLegacy     bool
		expectLegacy   bool
		expectRootTemp interface{}
	}{
		{
			name:           "root temperature suppresses legacy by default",
			withRootTemp:   true,
			emitLegacy:     false,
			expectLegacy:   false,
			expectRootTemp: 25.5,
		},
		{
			name:           "legacy emitted as diagnostic when enabled",
			withRootTemp:   true,
			emitLegacy:     true,
			expectLegacy:   true,
			expectRootTemp: 25.5,
		},
		{
			name:           "legacy fills in when root field absent",
			withRootTemp:   false,
			emitLegacy:     false,
			expectLegacy:   false,
			expectRootTemp: 24.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := map[string]interface{}{
				"sensorState": []interface{}{
					map[string]interface{}{"index": 0.0, "value": 2450.0},
				},
			}
			if tt.withRootTemp {
				payload["temperature"] = 25.5
			}

			snap := Normalize(payload, "P", "A", "R", NormalizeOptions{EmitLegacyTemperature: tt.emitLegacy})

			legacy, hasLegacy := snap.Sensors["water_temp_sensor_state"]
			if hasLegacy != tt.expectLegacy {
				t.Fatalf("Expected legacy reading presence %v, got %v", tt.expectLegacy, hasLegacy)
			}
			if hasLegacy {
				if legacy.Value != 24.5 {
					t.Errorf("Expected legacy value 24.5 (scaled from 2450), got %v", legacy.Value)
				}
				if legacy.Category != CategoryDiagnostic {
					t.Error("Expected legacy reading to be diagnostic")
				}
			}
			if snap.Sensors["temperature"].Value != tt.expectRootTemp {
				t.Errorf("Expected temperature %v, got %v", tt.expectRootTemp, snap.Sensors["temperature"].Value)
			}
		})
	}
}

func TestNormalizePoolStatus(t *testing.T) {
	payload := map[string]interface{}{
		"pool": []interface{}{
			map[string]interface{}{"name": "Filtration", "value": 1.0},
			map[string]interface{}{"status": "ok"},
		},
	}

	snap := Normalize(payload, "P", "A", "R", NormalizeOptions{})

	if snap.PoolStatus["0"].Name != "Filtration" || snap.PoolStatus["0"].Value != 1.0 {
		t.Errorf("Unexpected status 0: %+v", snap.PoolStatus["0"])
	}
	if snap.PoolStatus["1"].Value != "ok" {
		t.Errorf("Unexpected status 1: %+v", snap.PoolStatus["1"])
	}
}

func TestNormalizeFiltrationProgram(t *testing.T) {
	payload := map[string]interface{}{
		"modules": []interface{}{
			map[string]interface{}{
				"id":   "M1",
				"type": "lr-pc",
				"name": "Pool-ABC",
				"programs": []interface{}{
					map[string]interface{}{
						"id":                     "light",
						"programCharacteristics": map[string]interface{}{"programType": 2.0},
					},
					map[string]interface{}{
						"id":                     "filt",
						"programCharacteristics": map[string]interface{}{"programType": 4.0, "mode": 2.0},
					},
				},
			},
		},
	}

	snap := Normalize(payload, "P", "A", "R", NormalizeOptions{})

	module := snap.Modules["M1"]
	if len(module.Programs) != 2 {
		t.Fatalf("Expected 2 programs, got %d", len(module.Programs))
	}
	if module.FiltrationProgram == nil {
		t.Fatal("Expected filtration program to be identified")
	}
	if module.FiltrationProgram["id"] != "filt" {
		t.Errorf("Expected program filt, got %v", module.FiltrationProgram["id"])
	}
}

func TestDig(t *testing.T) {
	data := map[string]interface{}{
		"outputs": []interface{}{
			map[string]interface{}{"v": 1.0},
		},
	}

	tests := []struct {
		name     string
		path     []interface{}
		expected interface{}
	}{
		{"hit", []interface{}{"outputs", 0, "v"}, 1.0},
		{"index out of range", []interface{}{"outputs", 5, "v"}, nil},
		{"negative index", []interface{}{"outputs", -1}, nil},
		{"missing key", []interface{}{"missing"}, nil},
		{"wrong container type", []interface{}{"outputs", "v"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dig(data, tt.path...); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}
