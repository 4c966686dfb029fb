package gateway

import (
	"context"
	"strconv"
	"time"

	"github.com/MrWong99/ipovoice/internal/mcp/bridge"
	"github.com/MrWong99/ipovoice/pkg/provider/s2s"
)

// pendingCall is a tool call that has been dispatched but not yet answered.
type pendingCall struct {
	name    string
	started time.Time
}

// dispatch resolves each call on its own goroutine so a slow tool never
// stalls audio relay. Every call gets exactly one response carrying its ID;
// a repeated ID that is still in flight is not invoked again. Calls without
// an ID cannot repeat, so each one is tracked under its own local key.
func (s *Session) dispatch(ctx context.Context, calls []s2s.ToolCall) {
	for _, call := range calls {
		s.mu.Lock()
		key := call.ID
		if key == "" {
			s.unnamed++
			key = "unnamed-" + strconv.FormatUint(s.unnamed, 10)
		} else if _, dup := s.pending[key]; dup {
			s.mu.Unlock()
			s.log.Warn("duplicate tool call ignored", "id", call.ID, "tool", call.Name)
			continue
		}
		s.pending[key] = pendingCall{name: call.Name, started: time.Now()}
		s.mu.Unlock()

		s.log.Info("tool call", "id", call.ID, "tool", call.Name)
		s.toolWG.Add(1)
		go func() {
			defer s.toolWG.Done()
			s.resolve(ctx, key, call)
		}()
	}
}

func (s *Session) resolve(ctx context.Context, key string, call s2s.ToolCall) {
	res := s.tools.Invoke(ctx, call.Name, call.Args)

	s.mu.Lock()
	p := s.pending[key]
	delete(s.pending, key)
	s.mu.Unlock()

	elapsed := time.Since(p.started)
	status := "ok"
	if !res.OK() {
		status = "error"
		s.log.Warn("tool call failed", "id", call.ID, "tool", call.Name, "err", res.Err)
	}
	s.metrics.RecordToolCall(ctx, call.Name, status, elapsed)

	if err := s.model.SendToolResponses(ctx, toolResponse(call, res)); err != nil {
		if ctx.Err() == nil {
			s.log.Warn("send tool response", "id", call.ID, "tool", call.Name, "err", err)
		}
		return
	}
	s.log.Debug("tool response sent", "id", call.ID, "tool", call.Name, "duration", elapsed.Round(time.Millisecond))
}

// toolResponse wraps a tool result in the shape the model expects:
// {"result": payload} on success, {"error": message} on failure.
func toolResponse(call s2s.ToolCall, res bridge.Result) s2s.ToolResponse {
	body := map[string]any{"result": res.Payload}
	if !res.OK() {
		body = map[string]any{"error": res.Err.Error()}
	}
	return s2s.ToolResponse{ID: call.ID, Name: call.Name, Response: body}
}

// declarations converts the tool server's operations into model function
// declarations.
func declarations(ops []bridge.Operation) []s2s.ToolDeclaration {
	decls := make([]s2s.ToolDeclaration, 0, len(ops))
	for _, op := range ops {
		decls = append(decls, s2s.ToolDeclaration{
			Name:        op.Name,
			Description: op.Description,
			Parameters:  op.InputSchema,
		})
	}
	return decls
}
