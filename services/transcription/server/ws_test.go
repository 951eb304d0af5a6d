package server

import (
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openscribe/backend/services/transcription/entity"
)

func dialWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// waitForEvent reads frames until one of the wanted type arrives.
func waitForEvent(t *testing.T, conn *websocket.Conn, typ entity.EventType) entity.ServerEvent {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev entity.ServerEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %s event: %v", typ, err)
		}
		if ev.Type == typ {
			return ev
		}
	}
}

func TestWebSocketPing(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts.URL)

	sendMessage(t, conn, map[string]any{"type": "ping"})
	waitForEvent(t, conn, entity.EventPong)
}

func TestWebSocketUnknownMessageType(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts.URL)

	sendMessage(t, conn, map[string]any{"type": "launch_missiles"})
	ev := waitForEvent(t, conn, entity.EventError)
	if ev.Kind != "protocol" {
		t.Errorf("kind = %q, want protocol", ev.Kind)
	}

	// The connection survives the bad frame.
	sendMessage(t, conn, map[string]any{"type": "ping"})
	waitForEvent(t, conn, entity.EventPong)
}

func TestWebSocketMalformedJSON(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts.URL)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := waitForEvent(t, conn, entity.EventError)
	if ev.Kind != "protocol" {
		t.Errorf("kind = %q, want protocol", ev.Kind)
	}
}

func TestWebSocketRecordingFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts.URL)

	sendMessage(t, conn, map[string]any{"type": "set_model", "model": "whisper-base"})
	waitForEvent(t, conn, entity.EventModelReady)

	sendMessage(t, conn, map[string]any{"type": "set_channel", "channel": "single"})
	sendMessage(t, conn, map[string]any{
		"type":     "audio_chunk",
		"data":     base64.StdEncoding.EncodeToString([]byte("fake-audio-bytes")),
		"duration": 3.0,
	})

	sendMessage(t, conn, map[string]any{"type": "end_recording"})

	var completion entity.ServerEvent
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev entity.ServerEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for completion: %v", err)
		}
		if ev.Type == entity.EventStatus && ev.DurationSeconds != nil {
			completion = ev
			break
		}
	}

	if !strings.HasPrefix(completion.AudioURL, "/api/v1/audio/") {
		t.Errorf("audio url = %q", completion.AudioURL)
	}
	if *completion.DurationSeconds != 3.0 {
		t.Errorf("duration = %v", *completion.DurationSeconds)
	}
	if completion.Text != "hello from the stub" {
		t.Errorf("authoritative text = %q", completion.Text)
	}

	// The finished recording is persisted and visible over REST.
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/transcriptions/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if body["total"].(float64) != 1 {
		t.Fatalf("total = %v, want the saved recording", body["total"])
	}
	saved := body["transcriptions"].([]any)[0].(map[string]any)
	if saved["current_content"] != "hello from the stub" {
		t.Errorf("saved content = %v", saved["current_content"])
	}
}

func TestWebSocketChunkBeforeModel(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts.URL)

	sendMessage(t, conn, map[string]any{
		"type":     "audio_chunk",
		"data":     base64.StdEncoding.EncodeToString([]byte("bytes")),
		"duration": 1.0,
	})
	ev := waitForEvent(t, conn, entity.EventError)
	if ev.Kind != "audio" {
		t.Errorf("kind = %q, want audio", ev.Kind)
	}
}
