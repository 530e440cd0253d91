package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ujianku/ujianku-backend/internal/config"
	"github.com/ujianku/ujianku-backend/internal/middleware"
	"github.com/ujianku/ujianku-backend/internal/service"
	ws "github.com/ujianku/ujianku-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams live attempt events to proctor dashboards.
type WSHandler struct {
	rdb            *redis.Client
	examService    *service.ExamService
	rankingService *service.RankingService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	rdb *redis.Client,
	examService *service.ExamService,
	rankingService *service.RankingService,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		rdb:            rdb,
		examService:    examService,
		rankingService: rankingService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// MonitorStream godoc
// WS /ws/v1/admin/exams/:exam_id/monitor
// Upgrades to WebSocket and relays attempt lifecycle events for one exam.
// A state snapshot is sent on connect and on demand; incremental events
// arrive via Redis pub/sub as students start, answer, and finish.
func (h *WSHandler) MonitorStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	if _, err := h.examService.GetByID(c.Request.Context(), examID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "exam not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("admin_id", claims.UserID.String()).
		Str("exam_id", examID.String()).
		Logger()
	wsLog.Info().Msg("Proctor connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := h.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
	defer sub.Close()

	if err := h.sendSnapshot(ctx, conn, examID); err != nil {
		wsLog.Warn().Err(err).Msg("Initial snapshot failed")
	}

	// Forward pub/sub events until either side drops.
	go func() {
		defer cancel()
		for msg := range sub.Channel() {
			err := ws.WriteTyped(conn, ws.AttemptEventResponse{
				Event: ws.EventAttempt,
				Data:  json.RawMessage(msg.Payload),
			})
			if err != nil {
				return
			}
		}
	}()

	for {
		var req ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch req.Action {
		case ws.ActionPing:
			_ = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		case ws.ActionRefresh:
			if err := h.sendSnapshot(ctx, conn, examID); err != nil {
				_ = ws.WriteError(conn, "snapshot failed")
			}
		default:
			_ = ws.WriteError(conn, "unknown action: "+string(req.Action))
		}
	}
}

// sendSnapshot pushes the current stats and per-student progress.
func (h *WSHandler) sendSnapshot(ctx context.Context, conn *websocket.Conn, examID uuid.UUID) error {
	stats, err := h.rankingService.StatsByExam(ctx, examID)
	if err != nil {
		return err
	}
	progress, err := h.rankingService.ProgressByExam(ctx, examID)
	if err != nil {
		return err
	}

	return ws.WriteTyped(conn, ws.SnapshotResponse{
		Event: ws.EventSnapshot,
		Data: gin.H{
			"stats":    stats,
			"progress": progress,
		},
	})
}
