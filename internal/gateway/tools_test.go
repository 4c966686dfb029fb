package gateway

import (
	"errors"
	"testing"

	"github.com/MrWong99/ipovoice/internal/mcp/bridge"
	"github.com/MrWong99/ipovoice/pkg/provider/s2s"
)

func TestToolResponse(t *testing.T) {
	t.Parallel()

	call := s2s.ToolCall{ID: "c-7", Name: "get_ipo_details"}
	tests := []struct {
		name    string
		res     bridge.Result
		wantKey string
		wantVal string
	}{
		{name: "payload", res: bridge.Result{Payload: `{"name":"Acme"}`}, wantKey: "result", wantVal: `{"name":"Acme"}`},
		{name: "empty payload", res: bridge.Result{}, wantKey: "result", wantVal: ""},
		{name: "error", res: bridge.Result{Err: errors.New("boom")}, wantKey: "error", wantVal: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := toolResponse(call, tt.res)
			if got.ID != call.ID || got.Name != call.Name {
				t.Errorf("id/name = %q/%q, want %q/%q", got.ID, got.Name, call.ID, call.Name)
			}
			if len(got.Response) != 1 {
				t.Fatalf("response = %v, want exactly one key", got.Response)
			}
			if v, ok := got.Response[tt.wantKey]; !ok || v != tt.wantVal {
				t.Errorf("response[%q] = %v, want %q", tt.wantKey, v, tt.wantVal)
			}
		})
	}
}

func TestDeclarations(t *testing.T) {
	t.Parallel()

	schema := map[string]any{"type": "object", "properties": map[string]any{"ipo_name": map[string]any{"type": "string"}}}
	ops := []bridge.Operation{
		{Name: "get_active_ipos", Description: "List open IPOs.", InputSchema: map[string]any{"type": "object"}},
		{Name: "get_ipo_details", Description: "Details.", InputSchema: schema},
	}
	got := declarations(ops)
	if len(got) != len(ops) {
		t.Fatalf("got %d declarations, want %d", len(got), len(ops))
	}
	for i, d := range got {
		if d.Name != ops[i].Name || d.Description != ops[i].Description {
			t.Errorf("declaration %d = %+v", i, d)
		}
	}
	if got[1].Parameters["properties"] == nil {
		t.Error("parameters not carried over")
	}
	if len(declarations(nil)) != 0 {
		t.Error("expected no declarations for no operations")
	}
}
