package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// WSHandler exposes the learner and proctor websocket endpoints.
type WSHandler struct {
	store      app.Store
	lobby      *app.Lobby
	controller *app.Controller
	aggregator *app.Aggregator
	engineCfg  app.EngineConfig
	log        *zap.Logger
	upgrader   websocket.Upgrader
}

func NewWSHandler(store app.Store, lobby *app.Lobby, controller *app.Controller, aggregator *app.Aggregator, engineCfg app.EngineConfig, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		store:      store,
		lobby:      lobby,
		controller: controller,
		aggregator: aggregator,
		engineCfg:  engineCfg,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	OptionID string `json:"optionId"`
}

type cheatPayload struct {
	Type   domain.CheatType `json:"type"`
	Detail string           `json:"detail"`
}

type advancePayload struct {
	Delta int `json:"delta"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type joinedPayload struct {
	Participant domain.Participant `json:"participant"`
	QuizTitle   string             `json:"quizTitle"`
	Questions   int                `json:"questions"`
	AntiCheat   bool               `json:"antiCheat"`
}

type sessionPayload struct {
	Session domain.Session `json:"session"`
	Elapsed string         `json:"elapsed"`
}

// ServePlay runs the learner side: join by code, stream question/tick/result
// events out, take answer and cheat signals in.
func (h *WSHandler) ServePlay(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	name := r.URL.Query().Get("name")
	if code == "" || name == "" {
		http.Error(w, "missing code or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	session, quiz, participant, err := h.lobby.Join(r.Context(), code, name)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	monitor := app.NewMonitor(quiz.AntiCheat)
	engine := app.NewEngine(h.store, quiz, session, participant, monitor, h.engineCfg, h.log)

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{
		Participant: participant,
		QuizTitle:   quiz.Title,
		Questions:   len(quiz.Questions),
		AntiCheat:   quiz.AntiCheat,
	}}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.Begin()
	go engine.Run(runCtx)

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		for {
			select {
			case event, ok := <-engine.Events():
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(event.Type), Payload: event}:
				case <-runCtx.Done():
					return
				}
			case <-runCtx.Done():
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			if _, err := engine.Submit(payload.OptionID); err != nil {
				switch {
				case errors.Is(err, domain.ErrDuplicateAnswer), errors.Is(err, domain.ErrAlreadyCompleted):
					// Lost the race against expiry or a double click; the
					// engine already emitted the authoritative result.
					h.log.Debug("submission short-circuited", zap.String("participant", participant.ID), zap.Error(err))
				default:
					send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				}
			}
		case "cheat":
			var payload cheatPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid cheat payload"}}
				continue
			}
			engine.ReportCheat(payload.Type, payload.Detail)
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	cancel()
	<-eventsDone
	close(send)
	<-writerDone
}

// ServeHost runs the proctor side: start (or resume) the session, stream
// monitor snapshots out, take advance/stop commands in.
func (h *WSHandler) ServeHost(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	hostID := r.URL.Query().Get("hostId")
	if quizID == "" || hostID == "" {
		http.Error(w, "missing quizId or hostId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	session, err := h.controller.Start(r.Context(), quizID, hostID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "session", Payload: sessionPayload{
		Session: session,
		Elapsed: h.controller.Elapsed(session),
	}}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	snapshots, stopWatch := h.aggregator.Watch(watchCtx, session.ID)
	defer cancelWatch()
	defer stopWatch()

	snapshotsDone := make(chan struct{})
	go func() {
		defer close(snapshotsDone)
		for {
			select {
			case snapshot, ok := <-snapshots:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "monitor", Payload: snapshot}:
				case <-watchCtx.Done():
					return
				}
			case <-watchCtx.Done():
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "advance":
			var payload advancePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid advance payload"}}
				continue
			}
			updated, err := h.controller.Advance(context.Background(), session.ID, payload.Delta)
			if err != nil {
				// Surface the failure but keep the live view on the local state.
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
			if updated.ID != "" {
				session = updated
				send <- outboundMessage[any]{Type: "session", Payload: sessionPayload{
					Session: session,
					Elapsed: h.controller.Elapsed(session),
				}}
			}
		case "stop":
			updated, err := h.controller.Stop(context.Background(), session.ID)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
			if updated.ID != "" {
				session = updated
				send <- outboundMessage[any]{Type: "session", Payload: sessionPayload{
					Session: session,
					Elapsed: h.controller.Elapsed(session),
				}}
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	cancelWatch()
	stopWatch()
	<-snapshotsDone
	close(send)
	<-writerDone
}
