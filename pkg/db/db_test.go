package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"jobnotify/pkg/config"
	"jobnotify/pkg/metrics"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DBConfig{Host: "pg", Port: 5432, User: "u", Password: "p", Name: "jobs"})
	assert.Equal(t, "postgres://u:p@pg:5432/jobs?sslmode=disable", dsn)

	dsn = DSN(config.DBConfig{Host: "pg", Port: 5432, User: "u", Password: "p", Name: "jobs", SSLMode: "require"})
	assert.Contains(t, dsn, "sslmode=require")
}

func TestOperationOf(t *testing.T) {
	assert.Equal(t, "select", operationOf("\n  SELECT * FROM get_job_notifications_queue($1)"))
	assert.Equal(t, "unknown", operationOf("   "))
}

func TestSlowQueryTracer_RecordsDurationOnce(t *testing.T) {
	tracer := NewSlowQueryTracer(zap.NewNop(), time.Millisecond)
	ctx := context.WithValue(context.Background(), queryStartKey{}, queryStart{
		at:  time.Now().Add(-time.Second),
		sql: "UPDATE job_notification_log SET claimed_at = NOW()",
	})

	before := testutil.ToFloat64(metrics.SlowQueryCount.WithLabelValues("update"))
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SlowQueryCount.WithLabelValues("update")))
	// 慢查询不再额外写入 operation="slow" 的耗时样本
	assert.False(t, metrics.DBQueryDuration.DeleteLabelValues("slow"))
}
