package indygo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SetFiltrationMode changes the mode of a module's filtration program
// (FiltrationOff/On/Auto) through the portal's multi-step update protocol.
//
// The update endpoint expects the entire program object on every write; a
// partial object has been observed to erase unrelated configuration (timers,
// thresholds) server-side. So the full program list is rebuilt from the last
// refresh, every program is deep-copied and flagged as changed, and mode is
// nulled on non-filtration programs where a stale value would leave the
// remote side inconsistent.
//
// A failure in the primary writes propagates — the mode change did not take
// effect. Failures in the follow-up synchronization and reporting calls are
// logged only: the primary write may already have landed server-side and the
// device reconciles on its own, so raising here would push callers into
// re-sending a write that already succeeded.
func (c *Client) SetFiltrationMode(ctx context.Context, moduleID string, program map[string]interface{}, mode int) error {
	if mode < FiltrationOff || mode > FiltrationAuto {
		return &ValidationError{Reason: fmt.Sprintf("mode %d out of range", mode)}
	}
	if program == nil {
		return &ValidationError{Reason: "filtration program is required"}
	}

	updated, err := deepCopyProgram(program)
	if err != nil {
		return err
	}
	chars, ok := updated["programCharacteristics"].(map[string]interface{})
	if !ok {
		return &ValidationError{Reason: "program has no programCharacteristics object"}
	}
	chars["mode"] = mode
	updated["dataChanged"] = true

	module, known := c.moduleRecord(moduleID)
	if !known {
		c.logger.Printf("[Writer] Module %s not in last snapshot, submitting filtration program alone", moduleID)
	}

	programs, err := rebuildProgramList(module.Programs, updated)
	if err != nil {
		return err
	}

	// Primary writes, in the order the portal's own frontend issues them:
	// module name first, then the complete program list.
	if known {
		if err := c.putJSON(ctx, moduleUpdatePath, map[string]interface{}{
			"id":   moduleID,
			"name": module.Name,
		}); err != nil {
			return err
		}
	}

	if err := c.putJSON(ctx, programUpdatePath, map[string]interface{}{
		"module":   moduleID,
		"programs": programs,
	}); err != nil {
		return err
	}

	c.synchronize(ctx, moduleID, module, programs, mode)
	return nil
}

// rebuildProgramList produces the full list the update endpoint requires.
// The filtration program (matched by id) is replaced with the updated copy;
// every other program is deep-copied, flagged as changed, and has its mode
// forced to null when it carries one, since mode only means anything on
// filtration-type programs.
func rebuildProgramList(existing []map[string]interface{}, updated map[string]interface{}) ([]map[string]interface{}, error) {
	updatedID := stringID(updated["id"])

	if len(existing) == 0 {
		return []map[string]interface{}{updated}, nil
	}

	out := make([]map[string]interface{}, 0, len(existing))
	replaced := false
	for _, prog := range existing {
		if stringID(prog["id"]) == updatedID {
			out = append(out, updated)
			replaced = true
			continue
		}

		cp, err := deepCopyProgram(prog)
		if err != nil {
			return nil, err
		}
		cp["dataChanged"] = true
		if chars, ok := cp["programCharacteristics"].(map[string]interface{}); ok {
			if t, hasType := digNumber(chars, "programType"); !hasType || int(t) != filtrationProgramType {
				if _, hasMode := chars["mode"]; hasMode {
					chars["mode"] = nil
				}
			}
		}
		out = append(out, cp)
	}

	if !replaced {
		out = append(out, updated)
	}
	return out, nil
}

// synchronize runs the best-effort follow-up choreography that propagates
// the new configuration to the physical device and tells the server the data
// was sent. Each step is isolated so one failure cannot mask the successful
// primary write.
func (c *Client) synchronize(ctx context.Context, moduleID string, module ModuleRecord, programs []map[string]interface{}, mode int) {
	_, relayID := c.identifiers()

	if err := c.postJSON(ctx, remoteSyncPath, map[string]interface{}{
		"moduleId": moduleID,
		"relayId":  relayID,
	}); err != nil {
		c.logger.Printf("[Writer] Remote sync failed (device will reconcile later): %v", err)
	}

	if err := c.postJSON(ctx, reportModulePath, map[string]interface{}{
		"module": moduleID,
	}); err != nil {
		c.logger.Printf("[Writer] Module data-sent report failed: %v", err)
	}

	if err := c.postJSON(ctx, reportProgramPath, map[string]interface{}{
		"module":   moduleID,
		"programs": programs,
	}); err != nil {
		c.logger.Printf("[Writer] Program data-sent report failed: %v", err)
	}

	// The scheduled sync alone may not halt a running pump, so turning the
	// filtration off also sends an immediate remote-control stop.
	if mode == FiltrationOff {
		if err := c.postJSON(ctx, remoteControlPath, map[string]interface{}{
			"moduleId": moduleID,
			"relayId":  relayID,
			"action":   1,
			"mode":     "off",
		}); err != nil {
			c.logger.Printf("[Writer] Remote stop command failed: %v", err)
		}
	}

	// Hardware on the long-range backhaul needs its own explicit sync push.
	if strings.HasPrefix(module.Type, "lr-") {
		if err := c.postJSON(ctx, loraSyncPath, map[string]interface{}{
			"moduleId": moduleID,
			"relayId":  relayID,
		}); err != nil {
			c.logger.Printf("[Writer] Long-range transport sync failed: %v", err)
		}
	}
}

// deepCopyProgram clones a program object through a JSON round-trip so the
// caller's copy is never mutated.
func deepCopyProgram(program map[string]interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(program)
	if err != nil {
		return nil, &ValidationError{Reason: "program not serializable: " + err.Error()}
	}
	var cp map[string]interface{}
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, &ValidationError{Reason: "program not decodable: " + err.Error()}
	}
	return cp, nil
}
