package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ujianku/ujianku-backend/internal/config"
)

// MonitorEventType enumerates live attempt events.
type MonitorEventType string

const (
	MonitorEventStarted  MonitorEventType = "started"
	MonitorEventAnswered MonitorEventType = "answered"
	MonitorEventFinished MonitorEventType = "finished"
	MonitorEventExpired  MonitorEventType = "expired"
)

// MonitorEvent is published to the exam's Redis channel on every attempt
// transition, feeding the admin live-monitor stream. Best-effort: a failed
// publish never fails the student's operation.
type MonitorEvent struct {
	Type          MonitorEventType `json:"type"`
	ExamID        uuid.UUID        `json:"exam_id"`
	StudentID     uuid.UUID        `json:"student_id"`
	AttemptID     uuid.UUID        `json:"attempt_id"`
	TotalAnswered int              `json:"total_answered"`
	Timestamp     time.Time        `json:"timestamp"`
}

func publishMonitorEvent(ctx context.Context, rdb *redis.Client, log zerolog.Logger, evt MonitorEvent) {
	if rdb == nil {
		return
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Msg("marshal monitor event")
		return
	}
	channel := config.CacheKey.ExamMonitorChannel(evt.ExamID.String())
	if err := rdb.Publish(ctx, channel, raw).Err(); err != nil {
		log.Debug().Err(err).Str("channel", channel).Msg("publish monitor event failed")
	}
}
