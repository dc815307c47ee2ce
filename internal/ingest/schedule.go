package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// runTimeout bounds one scheduled refresh.
const runTimeout = 30 * time.Minute

// Schedule registers a daily refresh on spec (standard five-field cron, UTC).
// The caller starts and stops the returned scheduler.
func (e *ETL) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := e.Run(ctx, nil); err != nil {
			if errors.Is(err, ErrRunning) {
				e.log.Info("scheduled refresh skipped, ingest in progress")
				return
			}
			e.log.Error("scheduled refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
