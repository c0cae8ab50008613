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
	n, err := CopyFrom(context.TODO(), nil, "crashes", []string{"case_number"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"crashes"}, []string{"case_number", "crash_location"}).WillReturnResult(2)

	rows := [][]any{{"A1", "N 27TH ST"}, {"A2", "W CAPITOL DR"}}
	n, err := CopyFrom(context.Background(), mock, "crashes", []string{"case_number", "crash_location"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"crashes"}, []string{"case_number"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "crashes", []string{"case_number"}, [][]any{{"A1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO crashes")
	assert.NoError(t, mock.ExpectationsWereMet())
}
