package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/canopyhq/canopy/pkg/orchestrator"
	"github.com/canopyhq/canopy/pkg/tree"
)

// ErrorResponse is the JSON body returned for any non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// createConversationRequest is the body of POST /api/conversations.
type createConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// createConversationResponse is returned by POST /api/conversations.
type createConversationResponse struct {
	NodeID string `json:"node_id"`
	Title  string `json:"title"`
}

// createSubchatRequest is the body of POST /api/conversations/{parent_id}/subchats.
type createSubchatRequest struct {
	Title           string           `json:"title,omitempty"`
	SelectedText    string           `json:"selected_text,omitempty"`
	FollowUpContext string           `json:"follow_up_context,omitempty"`
	ContextType     tree.ContextType `json:"context_type,omitempty"`
}

// createSubchatResponse is returned by POST /api/conversations/{parent_id}/subchats.
type createSubchatResponse struct {
	NodeID   string `json:"node_id"`
	Title    string `json:"title"`
	ParentID string `json:"parent_id"`
}

// sendMessageRequest is the body of POST /api/conversations/{node_id}/messages
// and its streaming counterpart.
type sendMessageRequest struct {
	Message    string `json:"message"`
	DisableRAG bool   `json:"disable_rag,omitempty"`
}

// sendMessageResponse is returned by the non-streaming POST /messages route.
type sendMessageResponse struct {
	Response          string `json:"response"`
	ConversationTitle string `json:"conversation_title,omitempty"`
}

// conversationResponse describes node metadata for GET /api/conversations/{node_id}.
type conversationResponse struct {
	NodeID    string `json:"node_id"`
	Title     string `json:"title"`
	ParentID  string `json:"parent_id,omitempty"`
	TreeID    string `json:"tree_id"`
	CreatedAt string `json:"created_at"`
}

// historyResponse is returned by GET /api/conversations/{node_id}/history.
type historyResponse struct {
	NodeID  string        `json:"node_id"`
	Turns   []historyTurn `json:"turns"`
	Summary string        `json:"summary,omitempty"`
}

type historyTurn struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleCreateConversation creates a new root conversation node.
func (s *Server) handleCreateConversation(c *fiber.Ctx) error {
	var req createConversationRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
		}
	}

	node := s.forest.CreateRoot(req.Title)

	return c.JSON(createConversationResponse{
		NodeID: node.ID(),
		Title:  node.Title(),
	})
}

// handleCreateSubchat creates a child node under parentID.
func (s *Server) handleCreateSubchat(c *fiber.Ctx) error {
	parentID := c.Params("parentID")

	var req createSubchatRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
		}
	}

	var followUp *tree.FollowUp
	if req.SelectedText != "" || req.FollowUpContext != "" {
		ctxType := req.ContextType
		if ctxType == "" {
			ctxType = tree.ContextGeneral
		}
		followUp = &tree.FollowUp{
			SelectedText:    req.SelectedText,
			FollowUpContext: req.FollowUpContext,
			ContextType:     ctxType,
		}
	}

	node, err := s.forest.CreateChild(parentID, req.Title, followUp)
	if err != nil {
		return s.notFoundOrInternal(c, err)
	}

	return c.JSON(createSubchatResponse{
		NodeID:   node.ID(),
		Title:    node.Title(),
		ParentID: parentID,
	})
}

// handleSendMessage runs a non-streaming turn.
func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	nodeID := c.Params("nodeID")

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	response, title, _, err := s.orchestrator.Handle(c.Context(), nodeID, req.Message, req.DisableRAG)
	if err != nil {
		return s.turnErrorResponse(c, err)
	}

	return c.JSON(sendMessageResponse{
		Response:          response,
		ConversationTitle: title,
	})
}

// handleStreamMessage runs a turn and streams frames back over SSE.
func (s *Server) handleStreamMessage(c *fiber.Ctx) error {
	nodeID := c.Params("nodeID")

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	events, err := s.orchestrator.Stream(c.Context(), nodeID, req.Message, req.DisableRAG)
	if err != nil {
		return s.turnErrorResponse(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	// io.Pipe + SetBodyStream instead of fiber's SetBodyStreamWriter: the
	// latter buffers a full frame in its internal pipe before the reader
	// drains it, which delays delivery of individual SSE frames to the
	// client. io.Pipe blocks each Write until read, giving per-frame
	// backpressure all the way to the socket.
	pr, pw := io.Pipe()
	go streamEventsToPipe(events, pw)

	c.Context().Response.SetBodyStream(pr, -1)
	return nil
}

func streamEventsToPipe(events <-chan orchestrator.Event, pw *io.PipeWriter) {
	defer pw.Close()

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(pw, "data: %s\n\n", payload); err != nil {
			return
		}
	}
}

// handleGetConversation returns node metadata.
func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	nodeID := c.Params("nodeID")

	node, err := s.forest.Get(nodeID)
	if err != nil {
		return s.notFoundOrInternal(c, err)
	}

	return c.JSON(conversationResponse{
		NodeID:    node.ID(),
		Title:     node.Title(),
		ParentID:  node.ParentID(),
		TreeID:    node.TreeID(),
		CreatedAt: node.CreatedAt().Format("2006-01-02T15:04:05Z07:00"),
	})
}

// handleGetHistory returns the live buffer contents for a node (not the archive).
func (s *Server) handleGetHistory(c *fiber.Ctx) error {
	nodeID := c.Params("nodeID")

	node, err := s.forest.Get(nodeID)
	if err != nil {
		return s.notFoundOrInternal(c, err)
	}

	recent := node.Buffer().Recent()
	turns := make([]historyTurn, len(recent))
	for i, t := range recent {
		turns[i] = historyTurn{
			Role:      t.Role,
			Text:      t.Text,
			Timestamp: t.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	return c.JSON(historyResponse{
		NodeID:  nodeID,
		Turns:   turns,
		Summary: node.Buffer().Summary(),
	})
}

// notFoundOrInternal maps a tree.ErrNotFound to 404, anything else to 500.
func (s *Server) notFoundOrInternal(c *fiber.Ctx, err error) error {
	var nf tree.ErrNotFound
	if errors.As(err, &nf) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "node not found"})
	}
	s.logger.Error("unexpected error", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "internal error"})
}

// turnErrorResponse maps orchestrator.Handle/Stream errors to status codes
// per the taxonomy in the external interfaces contract: not-found -> 404,
// empty message -> 400, everything else -> 500.
func (s *Server) turnErrorResponse(c *fiber.Ctx, err error) error {
	var nf tree.ErrNotFound
	if errors.As(err, &nf) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "node not found"})
	}
	if isEmptyMessageError(err) {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}
	s.logger.Error("turn failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "internal error"})
}

func isEmptyMessageError(err error) bool {
	return err != nil && (err.Error() == "orchestrator: empty message")
}
