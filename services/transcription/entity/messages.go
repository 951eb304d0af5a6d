package entity

import (
	"encoding/json"
	"fmt"
)

// MessageType is the closed set of inbound websocket message kinds.
type MessageType string

const (
	MsgSetModel               MessageType = "set_model"
	MsgSetChannel             MessageType = "set_channel"
	MsgSetLanguage            MessageType = "set_language"
	MsgSetResumeAudio         MessageType = "set_resume_audio"
	MsgSetResumeTranscription MessageType = "set_resume_transcription"
	MsgAudioChunk             MessageType = "audio_chunk"
	MsgEndRecording           MessageType = "end_recording"
	MsgPing                   MessageType = "ping"
)

// ClientMessage is the decoded form of one inbound websocket frame. Only
// the fields relevant to the Type are populated.
type ClientMessage struct {
	Type            MessageType `json:"type"`
	Model           string      `json:"model,omitempty"`
	Channel         string      `json:"channel,omitempty"`
	Language        *string     `json:"language,omitempty"`
	AudioPath       string      `json:"audio_path,omitempty"`
	TranscriptionID string      `json:"transcription_id,omitempty"`
	Data            []byte      `json:"data,omitempty"` // base64 on the wire
	Duration        float64     `json:"duration,omitempty"`
}

// DecodeClientMessage parses one frame and rejects unknown types, so the
// dispatch switch downstream stays exhaustive.
func DecodeClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch msg.Type {
	case MsgSetModel, MsgSetChannel, MsgSetLanguage, MsgSetResumeAudio,
		MsgSetResumeTranscription, MsgAudioChunk, MsgEndRecording, MsgPing:
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", msg.Type)
	}
}

// EventType is the set of outbound websocket message kinds.
type EventType string

const (
	EventStatus           EventType = "status"
	EventDownloadProgress EventType = "download_progress"
	EventModelReady       EventType = "model_ready"
	EventTranscription    EventType = "transcription"
	EventPong             EventType = "pong"
	EventError            EventType = "error"
)

// ServerEvent is one outbound frame. A status event carrying AudioURL and
// DurationSeconds signals that finalization completed.
type ServerEvent struct {
	Type            EventType `json:"type"`
	Message         string    `json:"message,omitempty"`
	Kind            string    `json:"kind,omitempty"` // error taxonomy tag
	Text            string    `json:"text,omitempty"`
	Segments        []Segment `json:"segments,omitempty"`
	AudioURL        string    `json:"audio_url,omitempty"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
}
