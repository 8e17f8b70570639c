package indygo

import (
	"encoding/json"
	"log"
	"strings"
)

// DiscoveryResult carries the identifiers and scraped metadata pulled out of
// the devices page. Address and RelayID are always both set; discovery fails
// outright when either cannot be derived.
type DiscoveryResult struct {
	Address string
	RelayID string

	// PoolMetadata is the decoded currentPool object.
	PoolMetadata map[string]interface{}

	// IPXMetadata is the decoded ipxModule object, nil when the page has
	// none. Optional: only IPX installations embed it.
	IPXMetadata map[string]interface{}

	// ModulePrograms maps module id to program definitions scraped from
	// embedded script content, where present. Optional.
	ModulePrograms map[string][]map[string]interface{}
}

// Discover scrapes the devices page HTML for the two internal identifiers the
// status endpoint needs, plus whatever embedded metadata the page carries.
// The page's JavaScript object literals are the only structured source for
// module discovery; there is no documented API for any of this.
func Discover(html string, logger *log.Logger) (*DiscoveryResult, error) {
	raw, ok := extractNamedObject(html, "currentPool")
	if !ok {
		return nil, &DiscoveryError{
			Reason:  "currentPool object not found in devices page",
			Snippet: truncate(html, 300),
		}
	}

	var pool map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &pool); err != nil {
		return nil, &DiscoveryError{
			Reason:  "currentPool object is not valid JSON: " + err.Error(),
			Snippet: truncate(raw, 300),
		}
	}

	address, relayID, err := deriveIdentifiers(pool, logger)
	if err != nil {
		return nil, err
	}

	result := &DiscoveryResult{
		Address:      address,
		RelayID:      relayID,
		PoolMetadata: pool,
	}

	// ipxModule is optional salt/pH-setpoint metadata; absence is normal on
	// installations without an IPX extension.
	if raw, ok := extractNamedObject(html, "ipxModule"); ok {
		var ipx map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &ipx); err != nil {
			logger.Printf("[Discovery] ipxModule present but undecodable, skipping: %v", err)
		} else {
			result.IPXMetadata = ipx
		}
	}

	result.ModulePrograms = extractModulePrograms(html, pool)

	return result, nil
}

// deriveIdentifiers picks the gateway address and relay short id from the
// pool's module list.
//
// Priority: a pool controller (lr-pc) wins; its paired gateway's serial is
// the address, falling back to the controller's own serial when no dedicated
// gateway exists. The relay id comes from the suffix after the last hyphen of
// the controller's name, or the last 6 characters of its serial when the name
// has no hyphen. This suffix rule was inferred from a handful of observed
// installations and is a best-effort heuristic, so the fallback paths are
// logged rather than silently taken. Older installations with only an IPX
// module use its serial and dedicated relay field instead.
func deriveIdentifiers(pool map[string]interface{}, logger *log.Logger) (string, string, error) {
	modules, _ := pool["modules"].([]interface{})
	if len(modules) == 0 {
		return "", "", &DiscoveryError{Reason: "currentPool has no modules list"}
	}

	findByType := func(t string) map[string]interface{} {
		for _, m := range modules {
			mod, ok := m.(map[string]interface{})
			if ok && digString(mod, "type") == t {
				return mod
			}
		}
		return nil
	}

	gateway := findByType(ModuleTypeGateway)
	controller := findByType(ModuleTypePoolController)

	if controller != nil {
		if gateway == nil {
			logger.Printf("[Discovery] No dedicated gateway module, using pool controller as gateway")
			gateway = controller
		}

		address := digString(gateway, "serialNumber")
		relayID := relayIDFromController(controller, logger)
		if address == "" || relayID == "" {
			return "", "", &DiscoveryError{Reason: "pool controller found but address or relay id is empty"}
		}
		return address, relayID, nil
	}

	if ipx := findByType(ModuleTypeIPX); ipx != nil {
		address := digString(ipx, "serialNumber")
		relayID := digString(ipx, "ipxRelay")
		if address == "" || relayID == "" {
			return "", "", &DiscoveryError{Reason: "ipx module found but serial or relay field is empty"}
		}
		return address, relayID, nil
	}

	return "", "", &DiscoveryError{Reason: "no compatible module (lr-pc or ipx) in modules list"}
}

func relayIDFromController(controller map[string]interface{}, logger *log.Logger) string {
	name := digString(controller, "name")
	if idx := strings.LastIndexByte(name, '-'); idx >= 0 && idx+1 < len(name) {
		return name[idx+1:]
	}

	serial := digString(controller, "serialNumber")
	logger.Printf("[Discovery] Controller name %q has no hyphen suffix, falling back to serial tail", name)
	if len(serial) > 6 {
		return serial[len(serial)-6:]
	}
	return serial
}

// extractModulePrograms pulls per-module program definitions out of embedded
// script content. The page assigns one `programsModule<ID>` object per module
// carrying a `programs` list. Entirely optional; modules without embedded
// programs simply get none here and rely on the status endpoint.
func extractModulePrograms(html string, pool map[string]interface{}) map[string][]map[string]interface{} {
	modules, _ := pool["modules"].([]interface{})
	if len(modules) == 0 {
		return nil
	}

	var out map[string][]map[string]interface{}
	for _, m := range modules {
		mod, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		id := stringID(mod["id"])
		if id == "" {
			continue
		}

		raw, ok := extractNamedObject(html, "programsModule"+id)
		if !ok {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			continue
		}
		list, ok := obj["programs"].([]interface{})
		if !ok {
			continue
		}

		var programs []map[string]interface{}
		for _, p := range list {
			if prog, ok := p.(map[string]interface{}); ok {
				programs = append(programs, prog)
			}
		}
		if len(programs) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string][]map[string]interface{})
		}
		out[id] = programs
	}
	return out
}
