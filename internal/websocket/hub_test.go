package websocket

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/repositories"
	"github.com/resonira/voiceagent/internal/auth"
)

type fakeRecognition struct {
	mu     sync.Mutex
	deltas chan repositories.TranscriptDelta
	audio  [][]byte
	err    error
	closed bool
}

func (s *fakeRecognition) Stream(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	s.audio = append(s.audio, append([]byte(nil), data...))
	return nil
}

func (s *fakeRecognition) Deltas() <-chan repositories.TranscriptDelta { return s.deltas }

func (s *fakeRecognition) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeRecognition) Close() error {
	s.finish(nil)
	return nil
}

func (s *fakeRecognition) emit(delta repositories.TranscriptDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.deltas <- delta
	}
}

func (s *fakeRecognition) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.deltas)
}

func (s *fakeRecognition) received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio)
}

type fakeRecognizer struct {
	mu      sync.Mutex
	err     error
	streams []*fakeRecognition
	configs []repositories.AudioConfig
}

func (r *fakeRecognizer) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	s := &fakeRecognition{deltas: make(chan repositories.TranscriptDelta, 8)}
	r.streams = append(r.streams, s)
	r.configs = append(r.configs, config)
	return s, nil
}

func (r *fakeRecognizer) stream(t *testing.T) *fakeRecognition {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.streams) > 0 {
			s := r.streams[len(r.streams)-1]
			r.mu.Unlock()
			return s
		}
		r.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Recognition stream was never opened")
	return nil
}

func setupRelay(t *testing.T, recognizer *fakeRecognizer, authenticator *auth.Authenticator) (*Hub, string) {
	t.Helper()

	hub := NewHub(recognizer, authenticator, repositories.AudioConfig{SampleRate: 16000, Encoding: "LINEAR16", Language: "en-US"}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error { return hub.ServeWS(c, nil) })
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial relay: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readServerMessage(t *testing.T, conn *websocket.Conn) domain.StreamServerMessage {
	t.Helper()
	var msg domain.StreamServerMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read server message: %v", err)
	}
	return msg
}

func sendConfig(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()
	err := conn.WriteJSON(domain.StreamClientMessage{
		Type:  domain.StreamMessageConfig,
		Token: token,
		Config: &domain.StreamConfig{
			Encoding:             "LINEAR16",
			SampleRateHertz:      16000,
			LanguageCode:         "en-GB",
			EnableInterimResults: true,
		},
	})
	if err != nil {
		t.Fatalf("Failed to send config: %v", err)
	}
}

func TestRelayForwardsAudioAndTranscripts(t *testing.T) {
	recognizer := &fakeRecognizer{}
	_, url := setupRelay(t, recognizer, auth.NewAuthenticator("", 0))
	conn := dial(t, url)

	sendConfig(t, conn, "")
	stream := recognizer.stream(t)

	if recognizer.configs[0].Language != "en-GB" {
		t.Errorf("Expected client language, got %q", recognizer.configs[0].Language)
	}

	conn.WriteJSON(domain.StreamClientMessage{
		Type:  domain.StreamMessageAudio,
		Audio: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}),
	})
	conn.WriteMessage(websocket.BinaryMessage, []byte{5, 6})

	deadline := time.Now().Add(2 * time.Second)
	for stream.received() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if stream.received() != 2 {
		t.Fatalf("Expected 2 audio chunks forwarded, got %d", stream.received())
	}

	stream.emit(repositories.TranscriptDelta{Text: "hello"})
	stream.emit(repositories.TranscriptDelta{Text: "hello there", IsFinal: true})
	stream.finish(nil)

	partial := readServerMessage(t, conn)
	if partial.Type != domain.StreamMessagePartial || partial.Transcript != "hello" {
		t.Errorf("Unexpected partial %+v", partial)
	}
	final := readServerMessage(t, conn)
	if final.Type != domain.StreamMessageFinal || final.Transcript != "hello there" {
		t.Errorf("Unexpected final %+v", final)
	}
}

func TestRelayAudioBeforeConfig(t *testing.T) {
	_, url := setupRelay(t, &fakeRecognizer{}, auth.NewAuthenticator("", 0))
	conn := dial(t, url)

	conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2})
	msg := readServerMessage(t, conn)
	if msg.Type != domain.StreamMessageError || msg.Error != "stream not configured" {
		t.Errorf("Unexpected message %+v", msg)
	}
}

func TestRelayRejectsMalformedMessage(t *testing.T) {
	_, url := setupRelay(t, &fakeRecognizer{}, auth.NewAuthenticator("", 0))
	conn := dial(t, url)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`))
	msg := readServerMessage(t, conn)
	if msg.Type != domain.StreamMessageError || !strings.Contains(msg.Error, "unknown message type") {
		t.Errorf("Unexpected message %+v", msg)
	}
}

func TestRelayRequiresClientToken(t *testing.T) {
	authenticator := auth.NewAuthenticator("relay-secret", time.Hour)

	t.Run("missing token", func(t *testing.T) {
		recognizer := &fakeRecognizer{}
		_, url := setupRelay(t, recognizer, authenticator)
		conn := dial(t, url)

		sendConfig(t, conn, "")
		msg := readServerMessage(t, conn)
		if msg.Type != domain.StreamMessageError || msg.Error != "unauthorized" {
			t.Errorf("Unexpected message %+v", msg)
		}

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Error("Expected connection to be closed")
		}
		if len(recognizer.streams) != 0 {
			t.Error("Expected no recognition stream")
		}
	})

	t.Run("token in config", func(t *testing.T) {
		recognizer := &fakeRecognizer{}
		_, url := setupRelay(t, recognizer, authenticator)
		conn := dial(t, url)

		token, _ := authenticator.GenerateClientToken("kiosk-1")
		sendConfig(t, conn, token)
		recognizer.stream(t)
	})
}

func TestRelayBackendFailure(t *testing.T) {
	recognizer := &fakeRecognizer{err: errors.New("credentials missing")}
	_, url := setupRelay(t, recognizer, auth.NewAuthenticator("", 0))
	conn := dial(t, url)

	sendConfig(t, conn, "")
	msg := readServerMessage(t, conn)
	if msg.Type != domain.StreamMessageError || msg.Error != "failed to start transcription" {
		t.Errorf("Unexpected message %+v", msg)
	}
}

func TestRelayStreamFailure(t *testing.T) {
	recognizer := &fakeRecognizer{}
	_, url := setupRelay(t, recognizer, auth.NewAuthenticator("", 0))
	conn := dial(t, url)

	sendConfig(t, conn, "")
	recognizer.stream(t).finish(errors.New("recognition aborted"))

	msg := readServerMessage(t, conn)
	if msg.Type != domain.StreamMessageError || msg.Error != "recognition aborted" {
		t.Errorf("Unexpected message %+v", msg)
	}
}

func waitForCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Count() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Expected %d clients, got %d", want, hub.Count())
}

func TestCloseIdle(t *testing.T) {
	hub, url := setupRelay(t, &fakeRecognizer{}, auth.NewAuthenticator("", 0))
	conn := dial(t, url)
	waitForCount(t, hub, 1)

	if closed := hub.CloseIdle(time.Now(), time.Minute); closed != 0 {
		t.Errorf("Expected fresh client kept, closed %d", closed)
	}
	if closed := hub.CloseIdle(time.Now().Add(time.Hour), time.Minute); closed != 1 {
		t.Fatalf("Expected idle client closed, closed %d", closed)
	}

	msg := readServerMessage(t, conn)
	if msg.Error != "idle timeout" {
		t.Errorf("Expected idle timeout notice, got %+v", msg)
	}
	waitForCount(t, hub, 0)
}

func TestIdleReaper(t *testing.T) {
	hub, url := setupRelay(t, &fakeRecognizer{}, auth.NewAuthenticator("", 0))
	dial(t, url)
	waitForCount(t, hub, 1)

	reaper := NewIdleReaper(hub, 20*time.Millisecond, 5*time.Millisecond, zap.NewNop())
	reaper.Start()
	defer reaper.Stop()

	waitForCount(t, hub, 0)
}
