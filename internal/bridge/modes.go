package bridge

import "poolview/internal/indygo"

// Option labels shown in the Home Assistant select entity
const (
	OptionOff  = "Off"
	OptionOn   = "On"
	OptionAuto = "Auto"
)

func modeOptions() []string {
	return []string{OptionOff, OptionOn, OptionAuto}
}

// modeFromOption maps a select option back to the portal mode value
func modeFromOption(option string) (int, bool) {
	switch option {
	case OptionOff:
		return indygo.FiltrationOff, true
	case OptionOn:
		return indygo.FiltrationOn, true
	case OptionAuto:
		return indygo.FiltrationAuto, true
	default:
		return 0, false
	}
}

// modeOption renders a portal mode value as a select option
func modeOption(mode int) string {
	switch mode {
	case indygo.FiltrationOff:
		return OptionOff
	case indygo.FiltrationOn:
		return OptionOn
	case indygo.FiltrationAuto:
		return OptionAuto
	default:
		return ""
	}
}

// currentModeOption reads the mode out of a filtration program payload
func currentModeOption(program map[string]interface{}) string {
	characteristics, ok := program["programCharacteristics"].(map[string]interface{})
	if !ok {
		return ""
	}
	switch v := characteristics["mode"].(type) {
	case float64:
		return modeOption(int(v))
	case int:
		return modeOption(v)
	default:
		return ""
	}
}
