//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/entity"
)

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("aureus"),
		postgres.WithUsername("aureus"),
		postgres.WithPassword("aureus"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, Config{DSN: dsn, MaxConns: 4, DialTimeout: 10 * time.Second}, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))

	r, err := s.Queries().CreateReport(ctx, "Acme")
	require.NoError(t, err)

	err = s.InTx(ctx, func(q *Queries) error {
		if _, err := q.LockReport(ctx, r.ID); err != nil {
			return err
		}
		return q.InsertFile(ctx, &entity.ReportFile{ReportID: r.ID, Type: constants.FileTypePDF,
			Category: constants.CategorySource, Status: constants.StatusPending, S3Bucket: "b", S3Key: "k"})
	})
	require.NoError(t, err)

	files, err := s.Queries().FilesForReport(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, constants.StatusPending, files[0].Status)
}
