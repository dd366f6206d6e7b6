package hume

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/J3rah/talkai-monorepo-sub002/internal/store"
)

// Frame types the session acts on. Everything else is counted and skipped.
const (
	frameChatMetadata     = "chat_metadata"
	frameUserMessage      = "user_message"
	frameAssistantMessage = "assistant_message"
	frameError            = "error"
)

// Turn is one transcript line with its prosody scores.
type Turn struct {
	Role       string
	Content    string
	Emotions   map[string]float64
	ReceivedAt time.Time
}

// ProviderError is an error frame sent by EVI.
type ProviderError struct {
	Code    string
	Slug    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return "hume: " + e.Message
	}
	return fmt.Sprintf("hume %s: %s", e.Code, e.Message)
}

type envelope struct {
	Type        string          `json:"type"`
	ChatID      string          `json:"chat_id"`
	ChatGroupID string          `json:"chat_group_id"`
	Code        string          `json:"code"`
	Slug        string          `json:"slug"`
	Message     json.RawMessage `json:"message"`
	Models      struct {
		Prosody *struct {
			Scores map[string]float64 `json:"scores"`
		} `json:"prosody"`
	} `json:"models"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// decoded is the result of reading one text frame. At most one of turn,
// meta or err is set.
type decoded struct {
	kind string
	turn *Turn
	meta *envelope
	err  *ProviderError
}

func decodeFrame(data []byte, now time.Time) (decoded, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return decoded{}, fmt.Errorf("decoding frame: %w", err)
	}
	d := decoded{kind: env.Type}

	switch env.Type {
	case frameChatMetadata:
		d.meta = &env
	case frameUserMessage, frameAssistantMessage:
		var msg chatMessage
		if len(env.Message) > 0 {
			if err := json.Unmarshal(env.Message, &msg); err != nil {
				return decoded{}, fmt.Errorf("decoding %s: %w", env.Type, err)
			}
		}
		t := &Turn{Role: roleFor(env.Type, msg.Role), Content: msg.Content, ReceivedAt: now}
		if env.Models.Prosody != nil && len(env.Models.Prosody.Scores) > 0 {
			t.Emotions = env.Models.Prosody.Scores
		}
		d.turn = t
	case frameError:
		var text string
		if len(env.Message) > 0 {
			_ = json.Unmarshal(env.Message, &text)
		}
		d.err = &ProviderError{Code: env.Code, Slug: env.Slug, Message: text}
	}
	return d, nil
}

func roleFor(frameType, role string) string {
	switch role {
	case store.RoleUser, store.RoleAssistant:
		return role
	}
	if frameType == frameUserMessage {
		return store.RoleUser
	}
	return store.RoleAssistant
}
