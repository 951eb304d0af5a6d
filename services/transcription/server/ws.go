package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/openscribe/backend/pkg/logger"
	"github.com/openscribe/backend/services/transcription/entity"
	"github.com/openscribe/backend/services/transcription/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The desktop client connects from a file:// origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket owns one streaming connection. Each connection gets its
// own session; a writer goroutine drains session events onto the socket
// while the read loop dispatches inbound messages. Disconnecting mid-
// recording aborts the session without persisting anything.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ctx := logger.WithContext(context.Background(), s.log)
	sess := session.New(ctx, uuid.Must(uuid.NewV7()).String(), s.sessionCfg,
		s.engine, s.media, s.log)
	defer sess.Abort()

	log := s.log.With(slog.String("session_id", sess.ID()))
	log.Info("websocket connected", slog.String("remote_addr", r.RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev := <-sess.Events():
				if err := conn.WriteJSON(ev); err != nil {
					log.Warn("websocket write failed", slog.String("error", err.Error()))
					return
				}
			case <-sess.Done():
				// Flush whatever is already queued, then stop.
				for {
					select {
					case ev := <-sess.Events():
						conn.WriteJSON(ev)
					default:
						return
					}
				}
			}
		}
	}()

	// resumeOf tracks which stored transcription this recording extends,
	// so the save after end_recording lands on the right row.
	var resumeOf *uuid.UUID

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket closed unexpectedly", slog.String("error", err.Error()))
			} else {
				log.Info("websocket disconnected")
			}
			break
		}

		msg, err := entity.DecodeClientMessage(raw)
		if err != nil {
			// A malformed frame is reported but never kills the
			// connection.
			sess.Publish(entity.ServerEvent{
				Type:    entity.EventError,
				Kind:    "protocol",
				Message: err.Error(),
			})
			continue
		}

		if err := s.dispatch(ctx, sess, msg, &resumeOf); err != nil {
			log.Error("message handling failed",
				slog.String("type", string(msg.Type)),
				slog.String("error", err.Error()))
		}
	}

	sess.Abort()
	<-done
}

func (s *Server) dispatch(ctx context.Context, sess *session.Session, msg *entity.ClientMessage, resumeOf **uuid.UUID) error {
	switch msg.Type {
	case entity.MsgPing:
		sess.Publish(entity.ServerEvent{Type: entity.EventPong})
		return nil

	case entity.MsgSetModel:
		return s.publishErr(sess, "model", sess.SelectModel(ctx, msg.Model))

	case entity.MsgSetChannel:
		sess.SetChannel(msg.Channel)
		return nil

	case entity.MsgSetLanguage:
		sess.SetLanguage(msg.Language)
		return nil

	case entity.MsgSetResumeAudio:
		return s.publishErr(sess, "audio", s.resumeFromPath(ctx, sess, msg.AudioPath, resumeOf))

	case entity.MsgSetResumeTranscription:
		return s.publishErr(sess, "audio", s.resumeFromTranscription(ctx, sess, msg.TranscriptionID, resumeOf))

	case entity.MsgAudioChunk:
		return s.publishErr(sess, "audio", sess.AppendChunk(msg.Data, msg.Duration))

	case entity.MsgEndRecording:
		artifact, err := sess.EndRecording(ctx)
		if err != nil {
			return s.publishErr(sess, "audio", err)
		}
		// A session that never received audio has nothing to persist.
		if artifact.DurationSeconds > 0 {
			artifact.ResumeOf = *resumeOf
			if _, err := s.usecase.SaveArtifact(ctx, artifact); err != nil {
				return s.publishErr(sess, "storage", err)
			}
		}
		// Re-arm for the next recording on the same connection.
		*resumeOf = nil
		sess.Reset(uuid.Must(uuid.NewV7()).String())
		return nil
	}
	return nil
}

// resumeFromPath points the session at a prior artifact by file name. The
// name is relative to the audio directory; traversal is rejected.
func (s *Server) resumeFromPath(ctx context.Context, sess *session.Session, audioPath string, resumeOf **uuid.UUID) error {
	name := filepath.Base(strings.TrimSpace(audioPath))
	if name == "" || name == "." {
		return errors.New("missing audio path")
	}
	return sess.SetResume(filepath.Join(s.sessionCfg.AudioDir, name), 0)
}

// resumeFromTranscription resolves a stored transcription and resumes its
// audio; the eventual save updates the same row.
func (s *Server) resumeFromTranscription(ctx context.Context, sess *session.Session, rawID string, resumeOf **uuid.UUID) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return errors.New("invalid transcription id")
	}

	t, err := s.usecase.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.AudioFilePath == "" {
		return errors.New("transcription has no audio to resume")
	}

	if err := sess.SetResume(t.AudioFilePath, t.DurationSeconds); err != nil {
		return err
	}
	*resumeOf = &id
	return nil
}

// publishErr forwards a handler error to the client as an error event.
// The connection stays open; the client decides whether to retry.
func (s *Server) publishErr(sess *session.Session, kind string, err error) error {
	if err == nil {
		return nil
	}
	sess.Publish(entity.ServerEvent{
		Type:    entity.EventError,
		Kind:    kind,
		Message: err.Error(),
	})
	return err
}

// ServeAudio streams finished artifacts to the client.
func (s *Server) ServeAudio(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(chi.URLParam(r, "*"))
	if name == "" || name == "." {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.sessionCfg.AudioDir, name))
}
