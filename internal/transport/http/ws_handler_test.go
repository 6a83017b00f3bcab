package http

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wsFixture struct {
	server     *httptest.Server
	store      *memory.Store
	controller *app.Controller
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	store := memory.NewStore()

	quiz := domain.Quiz{
		ID:           "quiz-1",
		HostID:       "host-1",
		Title:        "Networking basics",
		TimingPolicy: domain.TimingPerQuestion,
		ShowAnswers:  true,
		PassingScore: 1,
		AntiCheat:    true,
		Questions: []domain.Question{
			{ID: "q1", QuizID: "quiz-1", OrderIndex: 0, Prompt: "first", Options: []domain.Option{
				{ID: "q1-a", QuestionID: "q1", Text: "wrong"},
				{ID: "q1-b", QuestionID: "q1", Text: "right", Correct: true},
			}},
			{ID: "q2", QuizID: "quiz-1", OrderIndex: 1, Prompt: "second", Options: []domain.Option{
				{ID: "q2-a", QuestionID: "q2", Text: "wrong"},
				{ID: "q2-b", QuestionID: "q2", Text: "right", Correct: true},
			}},
		},
	}
	if err := store.CreateQuiz(context.Background(), &quiz); err != nil {
		t.Fatalf("create quiz: %v", err)
	}

	log := zap.NewNop()
	controller := app.NewController(store, log)
	lobby := app.NewLobby(store, store, log)
	aggCfg := app.DefaultAggregatorConfig()
	aggCfg.PollInterval = 20 * time.Millisecond
	aggregator := app.NewAggregator(store, controller, aggCfg, log)
	engineCfg := app.EngineConfig{
		TickInterval:     10 * time.Millisecond,
		SessionPollEvery: time.Hour,
	}
	handler := NewWSHandler(store, lobby, controller, aggregator, engineCfg, log)

	mux := nethttp.NewServeMux()
	mux.HandleFunc("/ws/play", handler.ServePlay)
	mux.HandleFunc("/ws/host", handler.ServeHost)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &wsFixture{server: server, store: store, controller: controller}
}

func (f *wsFixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil skips over interleaved messages (ticks, monitor snapshots) until
// one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", wantType, err)
		}
		if msg.Type == wantType {
			return msg
		}
		if msg.Type == "error" {
			t.Fatalf("waiting for %q, got error: %s", wantType, msg.Payload)
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(wsMessage{Type: msgType, Payload: raw}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func TestHostStartStreamAndStop(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "/ws/host?quizId=quiz-1&hostId=host-1")

	var opened sessionPayload
	msg := readUntil(t, conn, "session")
	if err := json.Unmarshal(msg.Payload, &opened); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if len(opened.Session.Code) != 6 || !opened.Session.IsActive {
		t.Fatalf("unexpected opening session: %+v", opened.Session)
	}

	monitor := readUntil(t, conn, "monitor")
	var snapshot domain.MonitorSnapshot
	if err := json.Unmarshal(monitor.Payload, &snapshot); err != nil {
		t.Fatalf("decode monitor: %v", err)
	}
	if snapshot.SessionID != opened.Session.ID {
		t.Fatalf("monitor for wrong session: %+v", snapshot)
	}

	send(t, conn, "stop", struct{}{})
	var stopped sessionPayload
	for {
		msg = readUntil(t, conn, "session")
		if err := json.Unmarshal(msg.Payload, &stopped); err != nil {
			t.Fatalf("decode session: %v", err)
		}
		if !stopped.Session.IsActive {
			break
		}
	}
	if stopped.Session.EndedAt == nil {
		t.Fatalf("stopped session missing end timestamp: %+v", stopped.Session)
	}
}

func TestLearnerAnswerFlowToCompletion(t *testing.T) {
	f := newWSFixture(t)
	session, err := f.controller.Start(context.Background(), "quiz-1", "host-1")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	conn := f.dial(t, "/ws/play?code="+session.Code+"&name=Alice")

	var joined joinedPayload
	msg := readUntil(t, conn, "joined")
	if err := json.Unmarshal(msg.Payload, &joined); err != nil {
		t.Fatalf("decode joined: %v", err)
	}
	if joined.Questions != 2 || joined.QuizTitle != "Networking basics" {
		t.Fatalf("unexpected join payload: %+v", joined)
	}

	readUntil(t, conn, "question")

	send(t, conn, "answer", answerPayload{OptionID: "q1-b"})
	var result app.Event
	msg = readUntil(t, conn, "answerResult")
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Result == nil || !result.Result.Correct || result.Result.CorrectOptionID != "q1-b" {
		t.Fatalf("unexpected first result: %+v", result.Result)
	}

	readUntil(t, conn, "question")
	send(t, conn, "answer", answerPayload{OptionID: "q2-a"})
	msg = readUntil(t, conn, "answerResult")
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Result == nil || result.Result.Correct {
		t.Fatalf("wrong option scored as correct: %+v", result.Result)
	}

	var completed app.Event
	msg = readUntil(t, conn, "completed")
	if err := json.Unmarshal(msg.Payload, &completed); err != nil {
		t.Fatalf("decode completion: %v", err)
	}
	if completed.Completion == nil || completed.Completion.Score != 1 || !completed.Completion.Passed {
		t.Fatalf("unexpected completion: %+v", completed.Completion)
	}

	participant, err := f.store.GetParticipant(context.Background(), joined.Participant.ID)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if !participant.Completed() || participant.Score != 1 {
		t.Fatalf("stored participant not finalized: %+v", participant)
	}
}

func TestCheatSignalAcknowledged(t *testing.T) {
	f := newWSFixture(t)
	session, err := f.controller.Start(context.Background(), "quiz-1", "host-1")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	conn := f.dial(t, "/ws/play?code="+session.Code+"&name=Mallory")
	readUntil(t, conn, "joined")
	readUntil(t, conn, "question")

	send(t, conn, "cheat", cheatPayload{Type: domain.CheatTabSwitch, Detail: "visibilitychange"})
	var ack app.Event
	msg := readUntil(t, conn, "cheatAck")
	if err := json.Unmarshal(msg.Payload, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.CheatType != domain.CheatTabSwitch || ack.CheatAttempts != 1 {
		t.Fatalf("unexpected cheat ack: %+v", ack)
	}
}

func TestJoinUnknownCode(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "/ws/play?code=ZZZZZZ&name=Alice")

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "error" {
		t.Fatalf("expected error message, got %q", msg.Type)
	}
}

func TestPlayRequiresCodeAndName(t *testing.T) {
	f := newWSFixture(t)
	resp, err := nethttp.Get(f.server.URL + "/ws/play?code=ABC234")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != nethttp.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
