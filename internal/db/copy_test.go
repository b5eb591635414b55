package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "bronze.raw_observations", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"bronze", "raw_observations"}, []string{"source", "payload"}).WillReturnResult(3)

	rows := [][]any{{"amazon", "{}"}, {"amazon", "{}"}, {"otto", "{}"}}
	n, err := CopyFrom(context.Background(), mock, "bronze.raw_observations", []string{"source", "payload"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_UnqualifiedTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"raw_observations"}, []string{"source"}).WillReturnResult(1)

	n, err := CopyFrom(context.Background(), mock, "raw_observations", []string{"source"}, [][]any{{"amazon"}})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"bronze", "raw_observations"}, []string{"source"}).
		WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "bronze.raw_observations", []string{"source"}, [][]any{{"amazon"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO bronze.raw_observations")
	assert.NoError(t, mock.ExpectationsWereMet())
}
