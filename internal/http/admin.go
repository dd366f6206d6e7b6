package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/J3rah/talkai-monorepo-sub002/internal/agent"
)

// AlertResponse carries an admin action failure the panel shows inline.
type AlertResponse struct {
	Alert agent.Alert `json:"alert"`
}

// ToggleResponse reports a start or stop request.
type ToggleResponse struct {
	Running bool   `json:"running"`
	Message string `json:"message,omitempty"`
}

// TestRequest is an optional conversation for the connection test.
type TestRequest struct {
	Messages []agent.ChatMessage `json:"messages,omitempty"`
}

func (s *Server) requireAgent(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.svc.Agent == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "agent backend is not configured")
		}
		return next(c)
	}
}

// alert answers a failed agent action. The backend is upstream, so every
// failure is a bad gateway.
func alert(c echo.Context, action string, err error) error {
	return c.JSON(http.StatusBadGateway, AlertResponse{Alert: agent.Interpret(action, err)})
}

func (s *Server) handleAgentStatus(c echo.Context) error {
	ctx, _ := requestCtx(c)
	st, err := s.svc.Agent.Status(ctx)
	if err != nil {
		return alert(c, "status", err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleAgentStart(c echo.Context) error {
	ctx, _ := requestCtx(c)
	msg, err := s.svc.Agent.Start(ctx)
	if err != nil {
		return alert(c, "start", err)
	}
	return c.JSON(http.StatusOK, ToggleResponse{Running: true, Message: msg})
}

func (s *Server) handleAgentStop(c echo.Context) error {
	ctx, _ := requestCtx(c)
	msg, err := s.svc.Agent.Stop(ctx)
	if err != nil {
		return alert(c, "stop", err)
	}
	return c.JSON(http.StatusOK, ToggleResponse{Running: false, Message: msg})
}

func (s *Server) handleAgentActivities(c echo.Context) error {
	ctx, _ := requestCtx(c)
	acts, err := s.svc.Agent.Activities(ctx)
	if err != nil {
		return alert(c, "activities", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"activities": acts})
}

func (s *Server) handleAgentTools(c echo.Context) error {
	ctx, _ := requestCtx(c)
	tools, err := s.svc.Agent.Tools(ctx)
	if err != nil {
		return alert(c, "tools", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"tools": tools})
}

func (s *Server) handleAgentDiscover(c echo.Context) error {
	ctx, id := requestCtx(c)
	d, err := s.svc.Agent.DiscoverTools(ctx, id.UserID)
	if err != nil {
		return alert(c, "discover", err)
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleAgentTest(c echo.Context) error {
	var req TestRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	ctx, id := requestCtx(c)
	resp, err := s.svc.Agent.TestConnection(ctx, id.UserID, req.Messages)
	if err != nil {
		return alert(c, "test", err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAgentSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.Agent.Settings())
}
