package indygo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

// recordingPortal is a fake vendor backend that captures every write call.
type recordingPortal struct {
	mu       sync.Mutex
	requests []recordedRequest
	failPath string
}

func (p *recordingPortal) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		json.Unmarshal(raw, &body)

		p.mu.Lock()
		p.requests = append(p.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
		fail := p.failPath != "" && r.URL.Path == p.failPath
		p.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"status": "ok"}`))
	})
}

func (p *recordingPortal) find(method, path string) (recordedRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, req := range p.requests {
		if req.Method == method && req.Path == path {
			return req, true
		}
	}
	return recordedRequest{}, false
}

func newWriterClient(t *testing.T, portal *recordingPortal, moduleType string) *Client {
	t.Helper()
	srv := httptest.NewServer(portal.handler())
	t.Cleanup(srv.Close)

	session := newTestSession(t, srv.URL)
	client := NewClient(session, "12345", NormalizeOptions{}, testLogger())
	client.address = "ADDR1"
	client.relayID = "relay_123"
	client.modules = map[string]ModuleRecord{
		"mod_123": {
			ID:   "mod_123",
			Type: moduleType,
			Name: "Pool-ABC",
			Programs: []map[string]interface{}{
				{
					"id": "prog_1",
					"programCharacteristics": map[string]interface{}{
						"mode":        0.0,
						"programType": 4.0,
					},
				},
				{
					"id": "prog_2",
					"programCharacteristics": map[string]interface{}{
						"mode":        1.0,
						"programType": 2.0,
					},
				},
			},
		},
	}
	return client
}

func filtrationProgram(mode int) map[string]interface{} {
	return map[string]interface{}{
		"id": "prog_1",
		"programCharacteristics": map[string]interface{}{
			"mode":        float64(mode),
			"programType": 4.0,
		},
	}
}

func TestSetFiltrationMode(t *testing.T) {
	portal := &recordingPortal{}
	client := newWriterClient(t, portal, "ipx")

	program := filtrationProgram(0)
	if err := client.SetFiltrationMode(context.Background(), "mod_123", program, FiltrationAuto); err != nil {
		t.Fatalf("SetFiltrationMode failed: %v", err)
	}

	// Caller-owned program must stay untouched.
	if got := program["programCharacteristics"].(map[string]interface{})["mode"]; got != 0.0 {
		t.Errorf("Caller's program was mutated: mode=%v", got)
	}

	nameUpdate, ok := portal.find(http.MethodPut, moduleUpdatePath)
	if !ok {
		t.Fatal("Expected module name update")
	}
	if nameUpdate.Body["name"] != "Pool-ABC" {
		t.Errorf("Expected module name Pool-ABC, got %v", nameUpdate.Body["name"])
	}

	update, ok := portal.find(http.MethodPut, programUpdatePath)
	if !ok {
		t.Fatal("Expected program update")
	}
	if update.Body["module"] != "mod_123" {
		t.Errorf("Expected module mod_123, got %v", update.Body["module"])
	}
	programs := update.Body["programs"].([]interface{})
	if len(programs) != 2 {
		t.Fatalf("Expected complete program list (2 entries), got %d", len(programs))
	}
	first := programs[0].(map[string]interface{})
	if mode := dig(first, "programCharacteristics", "mode"); mode != 2.0 {
		t.Errorf("Expected submitted filtration mode 2, got %v", mode)
	}
	if first["dataChanged"] != true {
		t.Error("Expected filtration program flagged as changed")
	}
	second := programs[1].(map[string]interface{})
	if second["dataChanged"] != true {
		t.Error("Expected sibling program flagged as changed")
	}
	if mode := dig(second, "programCharacteristics", "mode"); mode != nil {
		t.Errorf("Expected non-filtration program mode forced to null, got %v", mode)
	}

	syncReq, ok := portal.find(http.MethodPost, remoteSyncPath)
	if !ok {
		t.Fatal("Expected remote sync call")
	}
	if syncReq.Body["moduleId"] != "mod_123" || syncReq.Body["relayId"] != "relay_123" {
		t.Errorf("Unexpected sync payload: %v", syncReq.Body)
	}

	if _, ok := portal.find(http.MethodPost, reportModulePath); !ok {
		t.Error("Expected module data-sent report")
	}
	report, ok := portal.find(http.MethodPost, reportProgramPath)
	if !ok {
		t.Fatal("Expected program data-sent report")
	}
	reported := report.Body["programs"].([]interface{})[0].(map[string]interface{})
	if reported["id"] != "prog_1" {
		t.Errorf("Expected reported program id prog_1, got %v", reported["id"])
	}

	if _, ok := portal.find(http.MethodPost, remoteControlPath); ok {
		t.Error("Expected no remote stop command for mode Auto")
	}
}

func TestSetFiltrationModeOffSendsStop(t *testing.T) {
	tests := []struct {
		name       string
		mode       int
		expectStop bool
	}{
		{"off sends stop", FiltrationOff, true},
		{"on skips stop", FiltrationOn, false},
		{"auto skips stop", FiltrationAuto, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			portal := &recordingPortal{}
			client := newWriterClient(t, portal, "ipx")

			if err := client.SetFiltrationMode(context.Background(), "mod_123", filtrationProgram(2), tt.mode); err != nil {
				t.Fatalf("SetFiltrationMode failed: %v", err)
			}

			stop, ok := portal.find(http.MethodPost, remoteControlPath)
			if ok != tt.expectStop {
				t.Fatalf("Expected stop command presence %v, got %v", tt.expectStop, ok)
			}
			if ok {
				if stop.Body["action"] != 1.0 || stop.Body["mode"] != "off" {
					t.Errorf("Unexpected stop payload: %v", stop.Body)
				}
			}
		})
	}
}

func TestSetFiltrationModeLoraSync(t *testing.T) {
	portal := &recordingPortal{}
	client := newWriterClient(t, portal, "lr-pc")

	if err := client.SetFiltrationMode(context.Background(), "mod_123", filtrationProgram(0), FiltrationOn); err != nil {
		t.Fatalf("SetFiltrationMode failed: %v", err)
	}

	lora, ok := portal.find(http.MethodPost, loraSyncPath)
	if !ok {
		t.Fatal("Expected long-range transport sync for lr- module")
	}
	if lora.Body["moduleId"] != "mod_123" {
		t.Errorf("Unexpected lora sync payload: %v", lora.Body)
	}
}

func TestSetFiltrationModeNoLoraSyncForIPX(t *testing.T) {
	portal := &recordingPortal{}
	client := newWriterClient(t, portal, "ipx")

	if err := client.SetFiltrationMode(context.Background(), "mod_123", filtrationProgram(0), FiltrationOn); err != nil {
		t.Fatalf("SetFiltrationMode failed: %v", err)
	}
	if _, ok := portal.find(http.MethodPost, loraSyncPath); ok {
		t.Error("Expected no long-range sync for ipx module")
	}
}

// The primary write already landed when sync fails, so the call must still
// return normally.
func TestSetFiltrationModeSyncFailureIsSwallowed(t *testing.T) {
	portal := &recordingPortal{failPath: remoteSyncPath}
	client := newWriterClient(t, portal, "ipx")

	if err := client.SetFiltrationMode(context.Background(), "mod_123", filtrationProgram(2), FiltrationOff); err != nil {
		t.Fatalf("Expected sync failure to be swallowed, got %v", err)
	}
	if _, ok := portal.find(http.MethodPut, programUpdatePath); !ok {
		t.Error("Expected primary program update to have been sent")
	}
}

func TestSetFiltrationModePrimaryFailurePropagates(t *testing.T) {
	portal := &recordingPortal{failPath: programUpdatePath}
	client := newWriterClient(t, portal, "ipx")

	err := client.SetFiltrationMode(context.Background(), "mod_123", filtrationProgram(2), FiltrationOn)
	var commErr *CommunicationError
	if !errors.As(err, &commErr) {
		t.Fatalf("Expected CommunicationError from primary write, got %T: %v", err, err)
	}
}

func TestSetFiltrationModeValidation(t *testing.T) {
	portal := &recordingPortal{}
	client := newWriterClient(t, portal, "ipx")

	tests := []struct {
		name    string
		program map[string]interface{}
		mode    int
	}{
		{"nil program", nil, FiltrationOn},
		{"missing characteristics", map[string]interface{}{"id": "p"}, FiltrationOn},
		{"mode out of range", filtrationProgram(0), 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.SetFiltrationMode(context.Background(), "mod_123", tt.program, tt.mode)
			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("Expected ValidationError, got %T: %v", err, err)
			}
		})
	}

	portal.mu.Lock()
	defer portal.mu.Unlock()
	if len(portal.requests) != 0 {
		t.Errorf("Expected no requests on validation failure, got %d", len(portal.requests))
	}
}
