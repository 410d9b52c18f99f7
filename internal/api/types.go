package api

import (
	"github.com/daikw/personachat/internal/persona"
	"github.com/daikw/personachat/internal/voice"
)

// Endpoint paths
const (
	PathGeneratePersonality = "/api/generate-personality"
	PathGenerateAvatar      = "/api/generate-avatar"
	PathVoiceConfig         = "/api/voice-config"
	PathChat                = "/api/chat"
	PathHealth              = "/api/health"
	PathLogMessage          = "/api/log-message"
	PathClassifyIntent      = "/api/classify-intent"
)

// Chat request modes
const (
	ModeIntro    = "intro"
	ModeContinue = "continue"
)

// PersonalityResult is the generated personality text.
type PersonalityResult struct {
	Personality   string `json:"personality"`
	CorrectedName string `json:"correctedName,omitempty"`
}

// Turn is one message of conversation history sent with a chat request.
type Turn struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// ChatRequest is the body of a chat call.
type ChatRequest struct {
	Message         string        `json:"message"`
	History         []Turn        `json:"history"`
	Persona         *persona.Bot  `json:"persona"`
	VoiceConfig     *voice.Config `json:"voiceConfig"`
	SessionID       string        `json:"sessionId"`
	SessionDatetime string        `json:"sessionDatetime"`
	Mode            string        `json:"mode,omitempty"`
}

// ChatReply is a successful chat response.
type ChatReply struct {
	Reply        string `json:"reply"`
	AudioFileURL string `json:"audioFileUrl,omitempty"`
}

// LogEntry is sent to the message log endpoint.
type LogEntry struct {
	Sender          string `json:"sender"`
	Text            string `json:"text"`
	SessionID       string `json:"sessionId"`
	SessionDatetime string `json:"sessionDatetime"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type avatarResponse struct {
	AvatarURL     string `json:"avatarUrl"`
	AvatarDataURL string `json:"avatarDataUrl"`
}

type voiceConfigResponse struct {
	VoiceConfig *voice.Config `json:"voiceConfig"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type classifyRequest struct {
	Prompt  string `json:"prompt"`
	Message string `json:"message"`
}

type classifyResponse struct {
	Affirmative *bool `json:"affirmative"`
}
