package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"aetherBoard/backend/internal/board"
	"aetherBoard/backend/internal/relay"
	"aetherBoard/backend/internal/ws"
)

// submitRequest 与客户端提交体同构（见 collab.mutationRequest）。
type submitRequest struct {
	RequestID    string            `json:"requestId"`
	BoardID      string            `json:"boardId"`
	ListID       string            `json:"listId"`
	CardID       string            `json:"cardId"`
	TargetListID string            `json:"targetListId"`
	TargetIndex  int               `json:"targetIndex"`
	Position     float64           `json:"position"`
	Attrs        map[string]any    `json:"attrs"`
	MemberID     string            `json:"memberId"`
	LabelID      string            `json:"labelId"`
	Clock        board.VectorClock `json:"vectorClock"`
}

type Handlers struct {
	svc *relay.Service
	hub *ws.Hub
}

func New(svc *relay.Service, hub *ws.Hub) *Handlers {
	return &Handlers{svc: svc, hub: hub}
}

func (h *Handlers) Register(rg *gin.RouterGroup) {
	rg.POST("/cards", h.mutate(board.EventCardCreated))
	rg.PATCH("/cards/:cardID", h.mutate(board.EventCardUpdated))
	rg.POST("/cards/:cardID/move", h.mutate(board.EventCardMoved))
	rg.DELETE("/cards/:cardID", h.mutate(board.EventCardDeleted))
	rg.POST("/cards/:cardID/members", h.mutate(board.EventCardMemberAssigned))
	rg.DELETE("/cards/:cardID/members", h.mutate(board.EventCardMemberUnassigned))
	rg.POST("/cards/:cardID/labels", h.mutate(board.EventCardLabelAdded))
	rg.DELETE("/cards/:cardID/labels", h.mutate(board.EventCardLabelRemoved))

	rg.POST("/lists", h.mutate(board.EventListCreated))
	rg.PATCH("/lists/:listID", h.mutate(board.EventListUpdated))
	rg.POST("/lists/:listID/reorder", h.mutate(board.EventListReordered))
	rg.DELETE("/lists/:listID", h.mutate(board.EventListDeleted))

	rg.GET("/boards/:boardID", h.snapshot)
	rg.GET("/boards/:boardID/events", h.events)
}

// mutate 把一次 HTTP 提交铸造成持久事件：落日志 + 应用权威状态 +
// 广播给看板房间（全员广播，提交方靠 correlationId 识别自回声）。
func (h *Handlers) mutate(kind board.EventKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "MALFORMED_BODY"})
			return
		}
		// URL 里的 id 为准
		if id := c.Param("cardID"); id != "" {
			req.CardID = id
		}
		if id := c.Param("listID"); id != "" {
			req.ListID = id
		}
		if req.BoardID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "MISSING_BOARD_ID"})
			return
		}

		env := board.Envelope{
			Type: refineKind(kind, req),
			Payload: board.Payload{
				BoardID:      req.BoardID,
				ListID:       req.ListID,
				CardID:       req.CardID,
				TargetListID: req.TargetListID,
				TargetIndex:  req.TargetIndex,
				Position:     req.Position,
				Attrs:        req.Attrs,
				MemberID:     req.MemberID,
				LabelID:      req.LabelID,
			},
			Meta: board.Meta{
				ActorID:       c.GetString("actorId"),
				Clock:         req.Clock,
				CorrelationID: req.RequestID,
			},
		}

		applied, err := h.svc.Append(c.Request.Context(), req.BoardID, env)
		if errors.Is(err, relay.ErrNotApplicable) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": "EVENT_NOT_APPLICABLE"})
			return
		}
		if err != nil {
			log.Printf("append event failed type=%s board=%s: %v", kind, req.BoardID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "APPEND_FAILED"})
			return
		}

		if msg, err := ws.NewEventMessage(applied); err == nil {
			h.hub.Broadcast(req.BoardID, msg, nil)
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// refineKind 把“只改 completed 一个键”的 update 折算成
// card.completed / card.uncompleted 专用事件。
func refineKind(kind board.EventKind, req submitRequest) board.EventKind {
	if kind != board.EventCardUpdated || len(req.Attrs) != 1 {
		return kind
	}
	if completed, ok := req.Attrs["completed"].(bool); ok {
		if completed {
			return board.EventCardCompleted
		}
		return board.EventCardUncompleted
	}
	return kind
}

func (h *Handlers) snapshot(c *gin.Context) {
	boardID := c.Param("boardID")
	lists, cards, lastEventID, err := h.svc.Snapshot(c.Request.Context(), boardID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "SNAPSHOT_FAILED"})
		return
	}
	data, _ := json.Marshal(gin.H{
		"board":       board.Entity{ID: boardID, Kind: board.KindBoard},
		"lists":       lists,
		"cards":       cards,
		"lastEventId": lastEventID,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "data": json.RawMessage(data)})
}

func (h *Handlers) events(c *gin.Context) {
	boardID := c.Param("boardID")
	after := c.Query("after")
	envs, err := h.svc.EventsAfter(c.Request.Context(), boardID, after, 500)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "EVENTS_FAILED"})
		return
	}
	if envs == nil {
		envs = []board.Envelope{}
	}
	data, _ := json.Marshal(envs)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": json.RawMessage(data)})
}
