package db

import (
	"context"
	"fmt"

	"github.com/kestrelnet/cascade/internal/models"
	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"
)

// LatestSession returns the most recent session summary observed for an
// address, or nil when the address has never opened a session. Session rows
// are written by the log-ingestion pipeline, an external collaborator; the
// cascade only reads the handful of activity fields it needs to decide
// whether a scanner-intel query is warranted.
func LatestSession(ctx context.Context, sdb *surrealdb.DB, logger *zap.Logger, ip string) (*models.SessionSummary, error) {
	query := `
		SELECT * FROM session
		WHERE ip = $ip
		ORDER BY ended_at DESC
		LIMIT 1;
	`
	result, err := surrealdb.Query[[]map[string]interface{}](ctx, sdb, query, map[string]interface{}{
		"ip": ip,
	})
	if err != nil {
		return nil, fmt.Errorf("query latest session for %s: %w", ip, err)
	}
	if result == nil || len(*result) == 0 || len((*result)[0].Result) == 0 {
		return nil, nil
	}

	row := (*result)[0].Result[0]
	summary := &models.SessionSummary{IP: ip}
	if n, ok := getIntField(row, "command_count"); ok {
		summary.CommandCount = n
	}
	if n, ok := getIntField(row, "file_download_count"); ok {
		summary.FileDownloadCount = n
	}
	if n, ok := getIntField(row, "duration_seconds"); ok {
		summary.DurationSeconds = n
	}
	if n, ok := getIntField(row, "unique_commands"); ok {
		summary.UniqueCommands = n
	}
	summary.VTFlagged = getBoolField(row, "vt_flagged")
	return summary, nil
}
