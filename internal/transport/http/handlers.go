package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dkeye/collabhub/internal/core"
	"github.com/dkeye/collabhub/internal/domain"
	"github.com/gin-gonic/gin"
)

// RoomSource is the read side of the room registry.
type RoomSource interface {
	List() []domain.RoomInfo
	Room(id domain.TargetID) (*core.Room, bool)
}

type HubStats interface {
	SessionCount() int
	PersistDropped() int64
}

// HistorySource is the read side of the operation store.
type HistorySource interface {
	Fields(ctx context.Context, t domain.TargetID) (map[string]json.RawMessage, error)
	History(ctx context.Context, t domain.TargetID, after int64) ([]domain.Operation, error)
}

type StatusHandlers struct {
	Rooms    RoomSource
	Sessions HubStats
	// History is nil when persistence is disabled.
	History HistorySource
	Started time.Time
}

type HealthResponse struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	Rooms          int    `json:"rooms"`
	Sessions       int    `json:"sessions"`
	PersistDropped int64  `json:"persistDropped"`
}

type RoomDetail struct {
	domain.RoomInfo
	Members []domain.Identity `json:"members"`
}

type PersistedOperation struct {
	ID         string          `json:"id"`
	UserID     domain.UserID   `json:"userId"`
	FieldPath  string          `json:"fieldPath"`
	Kind       domain.OpKind   `json:"kind"`
	Value      json.RawMessage `json:"value,omitempty"`
	Version    int64           `json:"version"`
	AcceptedAt time.Time       `json:"acceptedAt"`
}

type PersistedTarget struct {
	Target     domain.TargetID            `json:"targetId"`
	Fields     map[string]json.RawMessage `json:"fields"`
	Operations []PersistedOperation       `json:"operations"`
}

func (h *StatusHandlers) Register(r gin.IRoutes) {
	r.GET("/healthz", h.Health)
	r.GET("/api/rooms", h.ListRooms)
	r.GET("/api/rooms/:id", h.GetRoom)
	r.GET("/api/rooms/:id/history", h.GetHistory)
}

func (h *StatusHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:         "ok",
		Uptime:         time.Since(h.Started).Truncate(time.Second).String(),
		Rooms:          len(h.Rooms.List()),
		Sessions:       h.Sessions.SessionCount(),
		PersistDropped: h.Sessions.PersistDropped(),
	})
}

func (h *StatusHandlers) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.Rooms.List()})
}

func (h *StatusHandlers) GetRoom(c *gin.Context) {
	id := domain.TargetID(c.Param("id"))
	room, ok := h.Rooms.Room(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": string(domain.CodeRoomNotFound)})
		return
	}
	c.JSON(http.StatusOK, RoomDetail{RoomInfo: room.Info(), Members: room.Members()})
}

// GetHistory reports what the store holds for a target: the latest field
// values and the logged operations above ?after.
func (h *StatusHandlers) GetHistory(c *gin.Context) {
	if h.History == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "persistence disabled"})
		return
	}
	var after int64
	if q := c.Query("after"); q != "" {
		v, err := strconv.ParseInt(q, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": string(domain.CodeBadMessage)})
			return
		}
		after = v
	}

	id := domain.TargetID(c.Param("id"))
	ctx := c.Request.Context()
	fields, err := h.History.Fields(ctx, id)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	ops, err := h.History.History(ctx, id, after)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	out := PersistedTarget{Target: id, Fields: fields, Operations: make([]PersistedOperation, 0, len(ops))}
	for _, op := range ops {
		out.Operations = append(out.Operations, PersistedOperation{
			ID:         op.ID,
			UserID:     op.Origin.ID,
			FieldPath:  op.FieldPath,
			Kind:       op.Kind,
			Value:      op.Value,
			Version:    op.Version,
			AcceptedAt: op.AcceptedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}
