package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Turn is one transcript entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateFeedback posts turns to /api/generate-feedback. The route answers
// either a bare array of strings or {"feedback": [...]}.
func (c *Client) GenerateFeedback(ctx context.Context, turns []Turn) ([]string, error) {
	var raw json.RawMessage
	err := c.Do(ctx, http.MethodPost, "/api/generate-feedback", nil,
		map[string]any{"messages": turns}, &raw)
	if err != nil {
		return nil, err
	}
	return parseFeedback(raw)
}

func parseFeedback(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty feedback response")
	}

	var notes []string
	if err := json.Unmarshal(raw, &notes); err != nil {
		var env struct {
			Feedback []string `json:"feedback"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("unexpected feedback shape: %w", err)
		}
		notes = env.Feedback
	}

	out := notes[:0]
	for _, n := range notes {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

type journalResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Entry   struct {
		ID string `json:"id"`
	} `json:"entry"`
}

// CreateJournalEntry posts content to /api/journal/entries and returns the
// new entry id.
func (c *Client) CreateJournalEntry(ctx context.Context, content string) (string, error) {
	var resp journalResponse
	if err := c.Do(ctx, http.MethodPost, "/api/journal/entries", nil,
		map[string]string{"content": content}, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		if resp.Error != "" {
			return "", fmt.Errorf("journal entry rejected: %s", resp.Error)
		}
		return "", errors.New("journal entry rejected")
	}
	if resp.Entry.ID == "" {
		return "", errors.New("journal entry created without id")
	}
	return resp.Entry.ID, nil
}
