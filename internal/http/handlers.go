package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/J3rah/talkai-monorepo-sub002/internal/analytics"
	"github.com/J3rah/talkai-monorepo-sub002/internal/auth"
	"github.com/J3rah/talkai-monorepo-sub002/internal/backend"
	"github.com/J3rah/talkai-monorepo-sub002/internal/session"
	"github.com/J3rah/talkai-monorepo-sub002/internal/wizard"
)

// CreateWizardRequest starts a flow.
type CreateWizardRequest struct {
	Trial bool `json:"trial"`
}

// EventRequest is a wizard event. Type selects which of the other fields
// is read.
type EventRequest struct {
	Type    string `json:"type"`
	VoiceID string `json:"voice_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Save    bool   `json:"save,omitempty"`
	Agree   bool   `json:"agree,omitempty"`
}

// EventResponse is the flow after an event, plus what the caller must do
// next.
type EventResponse struct {
	Flow   session.Snapshot `json:"flow"`
	Effect wizard.Effect    `json:"effect"`
}

// EndRequest closes a live session.
type EndRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

// EndResponse is the ended session and its completion summary.
type EndResponse struct {
	Ended   session.Ended     `json:"ended"`
	Summary analytics.Summary `json:"summary"`
}

// JournalRequest saves feedback notes for a session.
type JournalRequest struct {
	Notes []string `json:"notes"`
}

// requestCtx returns the request context carrying the caller's token for
// backend calls made on their behalf.
func requestCtx(c echo.Context) (context.Context, auth.Identity) {
	id := auth.FromEcho(c)
	ctx := c.Request().Context()
	if id.Token != "" {
		ctx = backend.WithAccessToken(ctx, id.Token)
	}
	return ctx, id
}

func (s *Server) handleVoices(c echo.Context) error {
	ctx, id := requestCtx(c)
	trial, _ := strconv.ParseBool(c.QueryParam("trial"))
	userTier := s.svc.Analytics.ResolveTier(ctx, id.UserID, trial)
	return c.JSON(http.StatusOK, s.svc.Catalog.Load(ctx, userTier, trial))
}

func (s *Server) handleCreateWizard(c echo.Context) error {
	var req CreateWizardRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	ctx, id := requestCtx(c)
	snap, err := s.svc.Sessions.Create(ctx, id.UserID, req.Trial)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, snap)
}

func (s *Server) handleGetWizard(c echo.Context) error {
	ctx, id := requestCtx(c)
	snap, err := s.svc.Sessions.Get(ctx, id.UserID, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleWizardEvent(c echo.Context) error {
	var req EventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx, id := requestCtx(c)
	flowID := c.Param("id")

	var (
		snap   session.Snapshot
		effect wizard.Effect
		err    error
	)
	switch req.Type {
	case "select_voice":
		if req.VoiceID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "voice_id is required")
		}
		snap, effect, err = s.svc.Sessions.SelectVoice(ctx, id.UserID, flowID, req.VoiceID)
	case "submit_name":
		snap, effect, err = s.svc.Sessions.Apply(ctx, id.UserID, flowID, wizard.SubmitName{Name: req.Name})
	case "choose_data_saving":
		snap, effect, err = s.svc.Sessions.Apply(ctx, id.UserID, flowID, wizard.ChooseDataSaving{Save: req.Save})
	case "answer_terms":
		snap, effect, err = s.svc.Sessions.Apply(ctx, id.UserID, flowID, wizard.AnswerTerms{Agree: req.Agree})
	case "back":
		snap, effect, err = s.svc.Sessions.Apply(ctx, id.UserID, flowID, wizard.Back{})
	case "":
		return echo.NewHTTPError(http.StatusBadRequest, "type is required")
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown event type: "+req.Type)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, EventResponse{Flow: snap, Effect: effect})
}

func (s *Server) handleWizardBack(c echo.Context) error {
	ctx, id := requestCtx(c)
	snap, err := s.svc.Sessions.Back(ctx, id.UserID, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleWizardRefresh(c echo.Context) error {
	ctx, id := requestCtx(c)
	snap, err := s.svc.Sessions.Refresh(ctx, id.UserID, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleWizardConnect(c echo.Context) error {
	ctx, id := requestCtx(c)
	snap, err := s.svc.Sessions.Connect(ctx, id.UserID, c.Param("id"))
	if err != nil {
		return connectError(c, snap, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleWizardDefaults(c echo.Context) error {
	ctx, id := requestCtx(c)
	snap, err := s.svc.Sessions.ApplyDefaults(ctx, id.UserID, c.Param("id"))
	if err != nil {
		return connectError(c, snap, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleWizardHandoff(c echo.Context) error {
	ctx, id := requestCtx(c)
	h, err := s.svc.Sessions.Handoff(ctx, id.UserID, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h)
}

func (s *Server) handleWizardEnd(c echo.Context) error {
	var req EndRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	ctx, id := requestCtx(c)
	ended, err := s.svc.Sessions.End(ctx, id.UserID, c.Param("id"), req.DurationSeconds)
	if err != nil {
		return httpError(err)
	}

	sum, err := s.svc.Analytics.Summarize(ctx, analytics.Request{
		UserID:          id.UserID,
		Trial:           ended.Handoff.Trial,
		DurationSeconds: ended.DurationSeconds,
		SessionID:       ended.Handoff.ChatSessionID,
		Transcript:      ended.Transcript,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, EndResponse{Ended: ended, Summary: sum})
}

func (s *Server) handleSummary(c echo.Context) error {
	var req analytics.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.DurationSeconds < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "duration_seconds must not be negative")
	}
	ctx, id := requestCtx(c)
	req.UserID = id.UserID
	sum, err := s.svc.Analytics.Summarize(ctx, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (s *Server) handleJournal(c echo.Context) error {
	var req JournalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx, id := requestCtx(c)
	res, err := s.svc.Analytics.SaveFeedback(ctx, analytics.SaveRequest{
		UserID:    id.UserID,
		SessionID: c.Param("id"),
		Notes:     req.Notes,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}
