package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ujianku/ujianku-backend/internal/config"
	"github.com/ujianku/ujianku-backend/internal/repository"
)

// RankingPage is one cached leaderboard page.
type RankingPage struct {
	Entries []repository.RankingEntry `json:"entries"`
	Total   int                       `json:"total"`
	Page    int                       `json:"page"`
	Limit   int                       `json:"limit"`
}

// RankingService serves the live leaderboard and exam statistics. Results are
// cached in Redis for a short TTL so a hall full of proctor dashboards does
// not hammer the ranking query.
type RankingService struct {
	rankingRepo *repository.RankingRepository
	examRepo    *repository.ExamRepository
	attempts    *AttemptService
	rdb         *redis.Client
	cacheTTL    time.Duration
	log         zerolog.Logger
}

// NewRankingService creates a new RankingService.
func NewRankingService(
	rankingRepo *repository.RankingRepository,
	examRepo *repository.ExamRepository,
	attempts *AttemptService,
	rdb *redis.Client,
	cacheTTL time.Duration,
	log zerolog.Logger,
) *RankingService {
	return &RankingService{
		rankingRepo: rankingRepo,
		examRepo:    examRepo,
		attempts:    attempts,
		rdb:         rdb,
		cacheTTL:    cacheTTL,
		log:         log.With().Str("component", "ranking_service").Logger(),
	}
}

// ListByExam returns one leaderboard page. Overdue in-progress attempts are
// swept first so the board never shows a stale in-progress row past its
// deadline.
func (s *RankingService) ListByExam(ctx context.Context, examID uuid.UUID, page, limit int) (*RankingPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 25
	}

	if _, err := s.examRepo.GetByID(ctx, examID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, err
	}

	cacheKey := config.CacheKey.ExamRankingKey(examID.String(), page, limit)
	if s.rdb != nil {
		if raw, err := s.rdb.Get(ctx, cacheKey).Result(); err == nil {
			var cached RankingPage
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return &cached, nil
			}
		}
	}

	if _, err := s.attempts.ExpireOverdue(ctx, 500); err != nil {
		// Ranking still renders from whatever is finalized.
		s.log.Warn().Err(err).Msg("expiry sweep before ranking failed")
	}

	entries, total, err := s.rankingRepo.ListByExam(ctx, examID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list ranking: %w", err)
	}
	if entries == nil {
		entries = []repository.RankingEntry{}
	}

	result := &RankingPage{Entries: entries, Total: total, Page: page, Limit: limit}

	if s.rdb != nil {
		if raw, err := json.Marshal(result); err == nil {
			if err := s.rdb.Set(ctx, cacheKey, raw, s.cacheTTL).Err(); err != nil {
				s.log.Warn().Err(err).Msg("cache ranking page failed")
			}
		}
	}

	return result, nil
}

// StatsByExam returns aggregate statistics for one exam, cached like the
// leaderboard.
func (s *RankingService) StatsByExam(ctx context.Context, examID uuid.UUID) (*repository.RankingStats, error) {
	if _, err := s.examRepo.GetByID(ctx, examID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, err
	}

	cacheKey := config.CacheKey.ExamStatsKey(examID.String())
	if s.rdb != nil {
		if raw, err := s.rdb.Get(ctx, cacheKey).Result(); err == nil {
			var cached repository.RankingStats
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return &cached, nil
			}
		}
	}

	stats, err := s.rankingRepo.StatsByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("exam stats: %w", err)
	}

	if s.rdb != nil {
		if raw, err := json.Marshal(stats); err == nil {
			if err := s.rdb.Set(ctx, cacheKey, raw, s.cacheTTL).Err(); err != nil {
				s.log.Warn().Err(err).Msg("cache exam stats failed")
			}
		}
	}

	return stats, nil
}

// ProgressByExam reports how far each in-progress student has gotten, for the
// proctor monitor.
func (s *RankingService) ProgressByExam(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int, error) {
	return s.rankingRepo.ProgressByExam(ctx, examID)
}
