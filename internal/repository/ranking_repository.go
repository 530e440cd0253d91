package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RankingEntry is one leaderboard row: a finalized attempt joined with its
// student's identity.
type RankingEntry struct {
	Rank          int        `json:"rank"`
	StudentID     uuid.UUID  `json:"student_id"`
	Name          string     `json:"name"`
	NISN          string     `json:"nisn"`
	ClassName     string     `json:"class_name"`
	Score         *float64   `json:"score"`
	TotalCorrect  int        `json:"total_correct"`
	TotalAnswered int        `json:"total_answered"`
	Status        string     `json:"status"`
	FinishTime    *time.Time `json:"finish_time"`
}

// RankingStats summarizes one exam's finalized attempts.
type RankingStats struct {
	TotalParticipants int      `json:"total_participants"`
	TotalActive       int      `json:"total_active"`
	AverageScore      *float64 `json:"average_score"`
	HighestScore      *float64 `json:"highest_score"`
	LowestScore       *float64 `json:"lowest_score"`
}

// RankingRepository derives the leaderboard by reading the attempt store.
// Read-only; recomputed on demand.
type RankingRepository struct {
	pool *pgxpool.Pool
}

// NewRankingRepository creates a new RankingRepository.
func NewRankingRepository(pool *pgxpool.Pool) *RankingRepository {
	return &RankingRepository{pool: pool}
}

// ListByExam returns the paginated leaderboard of finalized attempts, best
// score first, earlier finish breaking ties.
func (r *RankingRepository) ListByExam(ctx context.Context, examID uuid.UUID, limit, offset int) ([]RankingEntry, int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_attempts WHERE exam_id = $1 AND status IN ('submitted', 'expired')`,
		examID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT RANK() OVER (ORDER BY a.score DESC NULLS LAST, a.finish_time ASC) AS rank,
		        s.id, s.name, s.nisn, s.class_name,
		        a.score, a.total_correct, a.total_answered, a.status, a.finish_time
		 FROM exam_attempts a
		 JOIN students s ON a.student_id = s.id
		 WHERE a.exam_id = $1 AND a.status IN ('submitted', 'expired')
		 ORDER BY rank
		 LIMIT $2 OFFSET $3`,
		examID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []RankingEntry
	for rows.Next() {
		var e RankingEntry
		if err := rows.Scan(&e.Rank, &e.StudentID, &e.Name, &e.NISN, &e.ClassName,
			&e.Score, &e.TotalCorrect, &e.TotalAnswered, &e.Status, &e.FinishTime); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// StatsByExam aggregates score statistics over finalized attempts plus the
// live in-progress count.
func (r *RankingRepository) StatsByExam(ctx context.Context, examID uuid.UUID) (*RankingStats, error) {
	st := &RankingStats{}
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE status IN ('submitted', 'expired')),
		        COUNT(*) FILTER (WHERE status = 'in_progress'),
		        ROUND(AVG(score) FILTER (WHERE status IN ('submitted', 'expired'))::numeric, 2),
		        MAX(score) FILTER (WHERE status IN ('submitted', 'expired')),
		        MIN(score) FILTER (WHERE status IN ('submitted', 'expired'))
		 FROM exam_attempts WHERE exam_id = $1`,
		examID).Scan(&st.TotalParticipants, &st.TotalActive,
		&st.AverageScore, &st.HighestScore, &st.LowestScore)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// ProgressByExam returns per-student answered counts for all in-progress
// attempts of an exam. Feeds the live monitor stream.
func (r *RankingRepository) ProgressByExam(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, total_answered
		 FROM exam_attempts
		 WHERE exam_id = $1 AND status = 'in_progress'`,
		examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	progress := make(map[uuid.UUID]int)
	for rows.Next() {
		var sid uuid.UUID
		var answered int
		if err := rows.Scan(&sid, &answered); err != nil {
			return nil, err
		}
		progress[sid] = answered
	}
	return progress, rows.Err()
}
