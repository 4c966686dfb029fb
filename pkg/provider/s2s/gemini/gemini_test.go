package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/oauth2"

	"github.com/MrWong99/ipovoice/pkg/provider/s2s"
	"github.com/MrWong99/ipovoice/pkg/provider/s2s/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptSetup consumes the setup message and acknowledges it.
func acceptSetup(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var raw map[string]any
	readJSON(t, conn, &raw)
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// waitClosed blocks until the client closes the connection.
func waitClosed(conn *websocket.Conn) {
	<-conn.CloseRead(context.Background()).Done()
}

// newProvider creates a Provider pointing at the given test server.
func newProvider(srv *httptest.Server, opts ...gemini.Option) *gemini.Provider {
	opts = append([]gemini.Option{gemini.WithBaseURL(wsURL(srv))}, opts...)
	return gemini.New("test-api-key", opts...)
}

// connect opens a session against srv and registers its cleanup.
func connect(t *testing.T, srv *httptest.Server, cfg s2s.SessionConfig) s2s.SessionHandle {
	t.Helper()
	handle, err := newProvider(srv).Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = handle.Close() })
	return handle
}

// nextEvent returns the next event or fails after a timeout.
func nextEvent(t *testing.T, h s2s.SessionHandle) (s2s.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		return ev, ok
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return s2s.Event{}, false
	}
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestWithModel_SetsModel(t *testing.T) {
	t.Parallel()

	modelCh := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		modelCh <- msg.Setup.Model
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		waitClosed(conn)
	})

	p := gemini.New("key", gemini.WithModel("custom-model"), gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if got, want := <-modelCh, "models/custom-model"; got != want {
		t.Errorf("model = %q; want %q", got, want)
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	caps := gemini.New("key").Capabilities()
	if caps.InputSampleRate != 16000 {
		t.Errorf("InputSampleRate = %d, want 16000", caps.InputSampleRate)
	}
	if caps.OutputSampleRate == 0 {
		t.Error("OutputSampleRate should be non-zero")
	}
	if len(caps.Voices) == 0 {
		t.Error("Voices should be non-empty")
	}
}

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			Tools []struct {
				FunctionDeclarations []struct {
					Name       string         `json:"name"`
					Parameters map[string]any `json:"parameters"`
				} `json:"functionDeclarations"`
			} `json:"tools"`
			InputAudioTranscription *struct{} `json:"inputAudioTranscription"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		waitClosed(conn)
	})

	p := newProvider(srv, gemini.WithTranscription(true))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{
		Instructions: "You are an IPO assistant.",
		Voice:        "Alnilam",
		Tools: []s2s.ToolDeclaration{
			{Name: "get_active_ipos", Description: "Lists open IPOs", Parameters: map[string]any{"type": "object"}},
			{Name: "get_ipo_specific_details", Parameters: map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties":           map[string]any{"symbol": map[string]any{"type": "string"}},
				"required":             []any{"symbol"},
			}},
		},
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	msg := <-received
	if !strings.HasPrefix(msg.Setup.Model, "models/") {
		t.Errorf("model %q should start with 'models/'", msg.Setup.Model)
	}
	if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
		t.Errorf("responseModalities = %v, want [AUDIO]", got)
	}
	if sc := msg.Setup.GenerationConfig.SpeechConfig; sc == nil || sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Alnilam" {
		t.Errorf("voice not configured: %+v", sc)
	}
	if si := msg.Setup.SystemInstruction; si == nil || len(si.Parts) == 0 || si.Parts[0].Text != "You are an IPO assistant." {
		t.Errorf("unexpected system instruction: %+v", si)
	}
	if len(msg.Setup.Tools) != 1 || len(msg.Setup.Tools[0].FunctionDeclarations) != 2 {
		t.Fatalf("unexpected tools: %+v", msg.Setup.Tools)
	}
	decls := msg.Setup.Tools[0].FunctionDeclarations
	if decls[0].Parameters != nil {
		t.Errorf("parameterless tool should omit parameters, got %v", decls[0].Parameters)
	}
	if _, ok := decls[1].Parameters["additionalProperties"]; ok {
		t.Error("additionalProperties should be stripped")
	}
	if msg.Setup.InputAudioTranscription == nil {
		t.Error("inputAudioTranscription should be requested")
	}
}

func TestConnect_IncludesAPIKeyInURL(t *testing.T) {
	t.Parallel()

	query := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		query <- r.URL.RawQuery
		acceptSetup(t, conn)
		waitClosed(conn)
	})

	handle, err := gemini.New("secret-key", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if q := <-query; !strings.Contains(q, "key=secret-key") {
		t.Errorf("URL query %q should contain key=secret-key", q)
	}
}

func TestConnect_Vertex(t *testing.T) {
	t.Parallel()

	type request struct {
		path, auth, model string
	}
	got := make(chan request, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		got <- request{path: r.URL.Path, auth: r.Header.Get("Authorization"), model: msg.Setup.Model}
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		waitClosed(conn)
	})

	p := gemini.NewVertex("my-project", "asia-south1",
		gemini.WithBaseURL(wsURL(srv)),
		gemini.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})),
	)
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	req := <-got
	if want := "/google.cloud.aiplatform.v1beta1.LlmBidiService/BidiGenerateContent"; req.path != want {
		t.Errorf("path = %q, want %q", req.path, want)
	}
	if req.auth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", req.auth)
	}
	if want := "projects/my-project/locations/asia-south1/publishers/google/models/gemini-live-2.5-flash-native-audio"; req.model != want {
		t.Errorf("model = %q, want %q", req.model, want)
	}
}

func TestConnect_SetupRejected(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 400, "message": "bad model"}})
		waitClosed(conn)
	})

	_, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err == nil || !strings.Contains(err.Error(), "bad model") {
		t.Fatalf("Connect err = %v, want setup rejection", err)
	}
}

func TestConnect_SetupTimeout(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		waitClosed(conn)
	})

	start := time.Now()
	_, err := newProvider(srv, gemini.WithSetupTimeout(50*time.Millisecond)).Connect(context.Background(), s2s.SessionConfig{})
	if err == nil {
		t.Fatal("expected setup timeout")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("setup timeout not applied")
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		waitClosed(conn)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newProvider(srv).Connect(ctx, s2s.SessionConfig{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// ── Send ──────────────────────────────────────────────────────────────────────

func TestSendAudio_EncodesAndSends(t *testing.T) {
	t.Parallel()

	type realtimeInput struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	audioMsg := make(chan realtimeInput, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var msg realtimeInput
		readJSON(t, conn, &msg)
		audioMsg <- msg
		waitClosed(conn)
	})
	handle := connect(t, srv, s2s.SessionConfig{})

	wantPCM := []byte{0x01, 0x02, 0x03, 0x04}
	if err := handle.SendAudio(context.Background(), wantPCM); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	msg := <-audioMsg
	chunks := msg.RealtimeInput.MediaChunks
	if len(chunks) == 0 {
		t.Fatal("no media chunks in realtimeInput")
	}
	if chunks[0].MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("mimeType = %q; want audio/pcm;rate=16000", chunks[0].MIMEType)
	}
	got, err := base64.StdEncoding.DecodeString(chunks[0].Data)
	if err != nil {
		t.Fatalf("base64 decode: %v", err)
	}
	if string(got) != string(wantPCM) {
		t.Errorf("decoded audio = %v; want %v", got, wantPCM)
	}
}

func TestSendText_SendsClientContent(t *testing.T) {
	t.Parallel()

	type clientContent struct {
		ClientContent struct {
			Turns []struct {
				Role  string `json:"role"`
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"turns"`
			TurnComplete bool `json:"turnComplete"`
		} `json:"clientContent"`
	}

	got := make(chan clientContent, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var msg clientContent
		readJSON(t, conn, &msg)
		got <- msg
		waitClosed(conn)
	})
	handle := connect(t, srv, s2s.SessionConfig{})

	if err := handle.SendText(context.Background(), "Hello. Introduce yourself.", true); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	msg := <-got
	cc := msg.ClientContent
	if !cc.TurnComplete {
		t.Error("turnComplete should be true")
	}
	if len(cc.Turns) != 1 || cc.Turns[0].Role != "user" || cc.Turns[0].Parts[0].Text != "Hello. Introduce yourself." {
		t.Errorf("unexpected turns: %+v", cc.Turns)
	}
}

func TestSendToolResponses_PreservesIDs(t *testing.T) {
	t.Parallel()

	type toolResponse struct {
		ToolResponse struct {
			FunctionResponses []struct {
				ID       string         `json:"id"`
				Name     string         `json:"name"`
				Response map[string]any `json:"response"`
			} `json:"functionResponses"`
		} `json:"toolResponse"`
	}

	got := make(chan toolResponse, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var msg toolResponse
		readJSON(t, conn, &msg)
		got <- msg
		waitClosed(conn)
	})
	handle := connect(t, srv, s2s.SessionConfig{})

	err := handle.SendToolResponses(context.Background(),
		s2s.ToolResponse{ID: "call-1", Name: "get_active_ipos", Response: map[string]any{"result": "ok"}},
		s2s.ToolResponse{ID: "call-2", Name: "escalate_to_agent", Response: map[string]any{"error": "boom"}},
	)
	if err != nil {
		t.Fatalf("SendToolResponses: %v", err)
	}

	frs := (<-got).ToolResponse.FunctionResponses
	if len(frs) != 2 {
		t.Fatalf("got %d function responses, want 2", len(frs))
	}
	if frs[0].ID != "call-1" || frs[0].Response["result"] != "ok" {
		t.Errorf("first response = %+v", frs[0])
	}
	if frs[1].ID != "call-2" || frs[1].Response["error"] != "boom" {
		t.Errorf("second response = %+v", frs[1])
	}

	if err := handle.SendToolResponses(context.Background()); err != nil {
		t.Errorf("empty SendToolResponses: %v", err)
	}
}

func TestSend_AfterClose_ReturnsErrSessionClosed(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		waitClosed(conn)
	})
	handle := connect(t, srv, s2s.SessionConfig{})
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx := context.Background()
	if err := handle.SendAudio(ctx, []byte{0, 0}); !errors.Is(err, s2s.ErrSessionClosed) {
		t.Errorf("SendAudio err = %v, want ErrSessionClosed", err)
	}
	if err := handle.SendText(ctx, "hi", true); !errors.Is(err, s2s.ErrSessionClosed) {
		t.Errorf("SendText err = %v, want ErrSessionClosed", err)
	}
	if err := handle.SendToolResponses(ctx, s2s.ToolResponse{ID: "x"}); !errors.Is(err, s2s.ErrSessionClosed) {
		t.Errorf("SendToolResponses err = %v, want ErrSessionClosed", err)
	}
}

func TestConcurrentSendAudio_DoesNotRace(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		waitClosed(conn)
	})
	handle := connect(t, srv, s2s.SessionConfig{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = handle.SendAudio(context.Background(), make([]byte, 320))
		}()
	}
	wg.Wait()
}

// ── Events ────────────────────────────────────────────────────────────────────

func TestEvents_PreserveServerOrder(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": base64.StdEncoding.EncodeToString(pcm)}},
			}},
		}})
		writeJSON(t, conn, map[string]any{"toolCall": map[string]any{"functionCalls": []any{
			map[string]any{"id": "a", "name": "get_active_ipos", "args": map[string]any{}},
			map[string]any{"id": "b", "name": "get_ipo_specific_details", "args": map[string]any{"symbol": "RURALFIN"}},
		}}})
		writeJSON(t, conn, map[string]any{"toolCallCancellation": map[string]any{"ids": []any{"a"}}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"inputTranscription":  map[string]any{"text": "what is open"},
			"outputTranscription": map[string]any{"text": "let me check"},
		}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		waitClosed(conn)
	})
	handle := connect(t, srv, s2s.SessionConfig{})

	want := []s2s.EventType{
		s2s.EventAudio,
		s2s.EventToolCall,
		s2s.EventToolCallCancellation,
		s2s.EventInputTranscript,
		s2s.EventOutputTranscript,
		s2s.EventInterrupted,
		s2s.EventTurnComplete,
	}
	for i, wt := range want {
		ev, ok := nextEvent(t, handle)
		if !ok {
			t.Fatalf("events closed after %d events", i)
		}
		if ev.Type != wt {
			t.Fatalf("event %d = %s, want %s", i, ev.Type, wt)
		}
		switch ev.Type {
		case s2s.EventAudio:
			if string(ev.Audio) != string(pcm) {
				t.Errorf("audio = %v, want %v", ev.Audio, pcm)
			}
		case s2s.EventToolCall:
			if len(ev.ToolCalls) != 2 || ev.ToolCalls[0].ID != "a" || ev.ToolCalls[1].Args["symbol"] != "RURALFIN" {
				t.Errorf("tool calls = %+v", ev.ToolCalls)
			}
		case s2s.EventToolCallCancellation:
			if len(ev.CancelledIDs) != 1 || ev.CancelledIDs[0] != "a" {
				t.Errorf("cancelled = %v", ev.CancelledIDs)
			}
		case s2s.EventInputTranscript:
			if ev.Text != "what is open" {
				t.Errorf("input transcript = %q", ev.Text)
			}
		}
	}
}

func TestEvents_ServerErrorEndsStream(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 500, "message": "quota"}})
		waitClosed(conn)
	})
	handle := connect(t, srv, s2s.SessionConfig{})

	if _, ok := nextEvent(t, handle); ok {
		t.Fatal("expected events channel to close")
	}
	if err := handle.Err(); err == nil || !strings.Contains(err.Error(), "quota") {
		t.Errorf("Err = %v, want server error", err)
	}
}

func TestEvents_SkipsUndecodableFrame(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		if err := conn.Write(context.Background(), websocket.MessageText, []byte("{not json")); err != nil {
			t.Errorf("write garbage: %v", err)
		}
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		waitClosed(conn)
	})
	handle := connect(t, srv, s2s.SessionConfig{})

	ev, ok := nextEvent(t, handle)
	if !ok {
		t.Fatalf("events closed after undecodable frame, Err = %v", handle.Err())
	}
	if ev.Type != s2s.EventTurnComplete {
		t.Errorf("event = %s, want %s", ev.Type, s2s.EventTurnComplete)
	}
	if err := handle.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
}

func TestEvents_NormalCloseIsClean(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		conn.Close(websocket.StatusNormalClosure, "bye")
	})
	handle := connect(t, srv, s2s.SessionConfig{})

	if _, ok := nextEvent(t, handle); ok {
		t.Fatal("expected events channel to close")
	}
	if err := handle.Err(); err != nil {
		t.Errorf("Err = %v, want nil after normal close", err)
	}
}

func TestEvents_AbnormalCloseSetsErr(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		conn.Close(websocket.StatusInternalError, "crash")
	})
	handle := connect(t, srv, s2s.SessionConfig{})

	if _, ok := nextEvent(t, handle); ok {
		t.Fatal("expected events channel to close")
	}
	if handle.Err() == nil {
		t.Error("Err should be set after abnormal close")
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_IdempotentAndClosesEvents(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		waitClosed(conn)
	})
	handle := connect(t, srv, s2s.SessionConfig{})

	if err := handle.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := nextEvent(t, handle); ok {
		t.Fatal("events channel should be closed after Close")
	}
	if err := handle.Err(); err != nil {
		t.Errorf("Err = %v, want nil after local close", err)
	}
}
