// Package metrics periodically samples database-backed gauges: session
// counts and the scraped-record totals per category. Task-lifecycle
// counters live with the scheduler; this collector covers the state that
// survives restarts.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultInterval = 30 * time.Second
	queryTimeout    = 2 * time.Second
)

var (
	activeSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hostscrape_sessions_active",
		Help: "Browser sessions that are active and not yet expired.",
	})
	expiredSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hostscrape_sessions_expired",
		Help: "Active-flagged sessions already past their expiry.",
	})
	scrapedRecordsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hostscrape_scraped_records",
		Help: "Persisted scraped records, by category.",
	}, []string{"category"})
)

func StartCollector(ctx context.Context, pool *pgxpool.Pool, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = defaultInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := collectSessionMetrics(ctx, pool); err != nil {
				logWarn(logger, "Session metrics collection failed", err)
			}
			if err := collectRecordMetrics(ctx, pool); err != nil {
				logWarn(logger, "Record metrics collection failed", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func collectSessionMetrics(ctx context.Context, pool *pgxpool.Pool) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var active, expired int64
	if err := pool.QueryRow(queryCtx, `
		SELECT
			COUNT(*) FILTER (WHERE expires_at > NOW()),
			COUNT(*) FILTER (WHERE expires_at <= NOW())
		FROM browser_sessions
		WHERE is_active
	`).Scan(&active, &expired); err != nil {
		return err
	}

	activeSessionsGauge.Set(float64(active))
	expiredSessionsGauge.Set(float64(expired))
	return nil
}

func collectRecordMetrics(ctx context.Context, pool *pgxpool.Pool) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := pool.Query(queryCtx, `
		SELECT category, COUNT(*)
		FROM scraped_records
		GROUP BY category
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return err
		}
		scrapedRecordsGauge.WithLabelValues(category).Set(float64(count))
	}
	return rows.Err()
}

func logWarn(logger *slog.Logger, message string, err error) {
	if logger == nil || err == nil {
		return
	}
	logger.Warn(message, "error", err)
}
