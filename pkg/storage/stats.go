package storage

import (
	"context"

	"github.com/kairos-watch/capture/pkg/core"
)

// CountJobsByStatus returns the number of jobs in each status. Statuses with
// no jobs are reported as zero.
func (s *GormStorage) CountJobsByStatus(ctx context.Context) (map[core.JobStatus]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := map[core.JobStatus]int64{
		core.StatusQueued:    0,
		core.StatusRunning:   0,
		core.StatusSucceeded: 0,
		core.StatusFailed:    0,
		core.StatusBlocked:   0,
	}
	for _, r := range rows {
		counts[core.JobStatus(r.Status)] += r.Count
	}
	return counts, nil
}
