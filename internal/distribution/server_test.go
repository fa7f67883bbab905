package distribution

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/marquee/internal/arbiter"
	"github.com/zsiec/marquee/internal/certs"
	"github.com/zsiec/marquee/internal/glyph"
	textingest "github.com/zsiec/marquee/internal/ingest/text"
	"github.com/zsiec/marquee/internal/live"
	"github.com/zsiec/marquee/internal/media"
	"github.com/zsiec/marquee/internal/queue"
)

type stubArbiter struct{ stats arbiter.Stats }

func (s stubArbiter) Stats() arbiter.Stats { return s.stats }

type stubIngest struct{ stats textingest.Stats }

func (s stubIngest) Stats() textingest.Stats { return s.stats }

type testServer struct {
	srv   *Server
	relay *Relay
	queue *queue.Queue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cert, err := certs.Generate(24 * time.Hour)
	if err != nil {
		t.Fatalf("certs.Generate: %v", err)
	}
	g := media.DefaultGeometry()
	ts := &testServer{
		relay: NewRelay(nil, CompressionLZ4, nil),
		queue: queue.New(glyph.NewBitmap(g), nil),
	}
	ts.srv, err = NewServer(ServerConfig{
		Addr:     ":0",
		Cert:     cert,
		Geometry: g,
		Version:  "test",
		Relay:    ts.relay,
		Queue:    ts.queue,
		Arbiter:  stubArbiter{arbiter.Stats{State: arbiter.StateDefault, DefaultFrames: 12}},
		Live:     live.New(g, live.DefaultTimeout, nil),
		Ingest:   stubIngest{textingest.Stats{Connections: 3, Accepted: 2}},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return ts
}

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatalf("certs.Generate: %v", err)
	}
	tests := []struct {
		name string
		cfg  ServerConfig
	}{
		{"no cert", ServerConfig{Addr: ":0"}},
		{"no addr", ServerConfig{Cert: cert}},
		{"no relay", ServerConfig{Addr: ":0", Cert: cert}},
	}
	for _, tc := range tests {
		if _, err := NewServer(tc.cfg); err == nil {
			t.Errorf("%s: NewServer succeeded, want error", tc.name)
		}
	}
}

func TestHandleStatus(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	if _, err := ts.queue.Enqueue("waiting", "10.0.0.9"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	rec := httptest.NewRecorder()
	ts.srv.APIHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q, want %q", got, "*")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"geometry", "arbiter", "queue", "live", "ingest", "relay"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("status lacks %q", key)
		}
	}

	var st struct {
		Geometry string `json:"geometry"`
		Arbiter  struct {
			State string `json:"state"`
		} `json:"arbiter"`
		Queue []queue.EntryInfo `json:"queue"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Geometry != "40x16" {
		t.Errorf("geometry = %q, want %q", st.Geometry, "40x16")
	}
	if st.Arbiter.State != "PLAYING_DEFAULT" {
		t.Errorf("state = %q, want %q", st.Arbiter.State, "PLAYING_DEFAULT")
	}
	if len(st.Queue) != 1 || st.Queue[0].Text != "waiting" {
		t.Errorf("queue = %+v, want one entry %q", st.Queue, "waiting")
	}
}

func TestHandlePostMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantQueue int
	}{
		{"accepted", `{"text":"hello"}`, http.StatusAccepted, 1},
		{"trimmed", `{"text":"  hello  \n"}`, http.StatusAccepted, 1},
		{"too long", `{"text":"` + strings.Repeat("x", queue.MaxMessageLength+1) + `"}`, http.StatusRequestEntityTooLarge, 0},
		{"exactly max", `{"text":"` + strings.Repeat("x", queue.MaxMessageLength) + `"}`, http.StatusAccepted, 1},
		{"unrenderable", `{"text":"bell\u0007"}`, http.StatusUnprocessableEntity, 0},
		{"bad json", `{"text":`, http.StatusBadRequest, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ts := newTestServer(t)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/messages", strings.NewReader(tc.body))
			ts.srv.APIHandler().ServeHTTP(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.wantCode, rec.Body.String())
			}
			if got := ts.queue.Len(); got != tc.wantQueue {
				t.Errorf("queue length = %d, want %d", got, tc.wantQueue)
			}
			if tc.wantCode != http.StatusAccepted {
				return
			}
			var resp MessageResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Response != "KTHXBYE!" || resp.ID == "" || resp.Position != 1 {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}

func TestHandleListMessagesEmpty(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := httptest.NewRecorder()
	ts.srv.APIHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/messages", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("body = %q, want %q", body, "[]")
	}
}

func TestHandleCertHash(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := httptest.NewRecorder()
	ts.srv.APIHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/cert-hash", nil))

	var resp certHashResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Hash != ts.srv.config.Cert.FingerprintHex() {
		t.Errorf("hash = %q, want %q", resp.Hash, ts.srv.config.Cert.FingerprintHex())
	}
}

func TestPreviewWebsocket(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	frame := stripedFrame()
	if err := ts.relay.SendFrame(frame); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}

	hs := httptest.NewServer(ts.srv.APIHandler())
	defer hs.Close()

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/api/preview"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", kind)
	}
	got, seq, err := DecodePreview(msg)
	if err != nil {
		t.Fatalf("DecodePreview: %v", err)
	}
	if seq != 1 || !bytes.Equal(got.Pix, frame.Pix) {
		t.Errorf("got seq %d, want the cached frame", seq)
	}
}

func TestStartH3RequiresEnable(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	if err := ts.srv.StartH3(t.Context()); err == nil {
		t.Error("StartH3 succeeded without H3 enabled")
	}
}
