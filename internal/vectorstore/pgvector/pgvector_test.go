package pgvector

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStorage_TableName(t *testing.T) {
	s, err := NewStorage(nil, "")
	require.NoError(t, err)
	assert.Equal(t, "patient_embeddings", s.table)

	_, err = NewStorage(nil, "x; DROP TABLE users")
	assert.Error(t, err)
}

func TestToVector(t *testing.T) {
	v := toVector([]float64{0.5, 1})
	assert.Equal(t, []float32{0.5, 1}, v.Slice())
}

// Runs against a live database when GLUCOSENSE_TEST_PG_DSN is set.
func TestStorage_Postgres(t *testing.T) {
	dsn := os.Getenv("GLUCOSENSE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("GLUCOSENSE_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	s, err := NewStorage(db, "glucosense_test_embeddings")
	require.NoError(t, err)
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []int{0, 1, 2}, [][]float64{{3, 0}, {0, 1}, {-1, 0}}))
	assert.Equal(t, 3, s.Len())

	hits, err := s.Search(ctx, []float64{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 1, hits[0].Row)
	assert.Equal(t, 2, hits[1].Row)

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Len())
}
