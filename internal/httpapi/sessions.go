package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/manavgup/rag-modulo-sub005/internal/conversation"
	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/search"
)

func (s *Server) handleCreateSession(c echo.Context) error {
	uid, err := requester(c)
	if err != nil {
		return writeError(c, err)
	}
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, core.NewError(core.CodeInvalidInput, "invalid request body"))
	}
	sess, err := s.svcs.Conversation.Create(c.Request().Context(), conversation.CreateRequest{
		OwnerID:      uid,
		CollectionID: req.CollectionID,
		Name:         req.Name,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, viewSession(sess))
}

func (s *Server) handleListSessions(c echo.Context) error {
	uid, err := requester(c)
	if err != nil {
		return writeError(c, err)
	}
	sessions, err := s.svcs.Conversation.List(c.Request().Context(), uid)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, viewSession(sess))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetSession(c echo.Context) error {
	uid, err := requester(c)
	if err != nil {
		return writeError(c, err)
	}
	sess, err := s.svcs.Conversation.Get(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, viewSession(sess))
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	uid, err := requester(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := s.svcs.Conversation.Delete(c.Request().Context(), uid, c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleArchiveSession(c echo.Context) error {
	uid, err := requester(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := s.svcs.Conversation.Archive(c.Request().Context(), uid, c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleTurn(c echo.Context) error {
	uid, err := requester(c)
	if err != nil {
		return writeError(c, err)
	}
	var req turnRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, core.NewError(core.CodeInvalidInput, "invalid request body"))
	}

	res, err := s.svcs.Conversation.Turn(c.Request().Context(), conversation.TurnRequest{
		RequesterID: uid,
		SessionID:   c.Param("id"),
		Question:    req.Question,
		TopK:        req.TopK,
		Pipeline: search.PipelineSpec{
			Preset:     req.Preset,
			Techniques: req.Techniques,
			CoTEnabled: req.CoTEnabled,
		},
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, turnResponse{
		SessionID:        c.Param("id"),
		UserOrdinal:      res.UserMessage.Ordinal,
		AssistantOrdinal: res.AssistantMessage.Ordinal,
		FollowUp:         res.FollowUp,
		SummaryScheduled: res.SummaryScheduled,
		Search:           res.Search,
	})
}

func (s *Server) handleExportSession(c echo.Context) error {
	uid, err := requester(c)
	if err != nil {
		return writeError(c, err)
	}
	dump, err := s.svcs.Conversation.ExportSession(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, dump)
}

// handleSuggestions dispatches on the source query parameter: "session"
// (default, recent conversation), "last_message", or "documents".
func (s *Server) handleSuggestions(c echo.Context) error {
	uid, err := requester(c)
	if err != nil {
		return writeError(c, err)
	}
	ctx := c.Request().Context()

	var out []string
	switch source := c.QueryParam("source"); source {
	case "", "session":
		out, err = s.svcs.Suggestions.FromSession(ctx, uid, c.QueryParam("session_id"))
	case "last_message":
		out, err = s.svcs.Suggestions.FromLastMessage(ctx, uid, c.QueryParam("session_id"))
	case "documents":
		out, err = s.svcs.Suggestions.FromDocuments(ctx, uid, c.QueryParam("collection_id"))
	default:
		err = core.NewError(core.CodeInvalidInput, "source must be session, last_message, or documents")
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, suggestionsResponse{Suggestions: out})
}
