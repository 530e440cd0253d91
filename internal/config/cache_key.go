package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key holding a student's active login JTI.
func (r *CacheKeyStruct) StudentSessionKey(studentID string) string {
	return fmt.Sprintf("login:%s", studentID)
}

// ExamRankingKey returns the cache key for an exam's computed leaderboard page.
func (r *CacheKeyStruct) ExamRankingKey(examID string, page, limit int) string {
	return fmt.Sprintf("exam:%s:ranking:%d:%d", examID, page, limit)
}

// ExamStatsKey returns the cache key for an exam's summary statistics.
func (r *CacheKeyStruct) ExamStatsKey(examID string) string {
	return fmt.Sprintf("exam:%s:stats", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel carrying live attempt
// events for an exam (started, answered, finished, expired).
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
