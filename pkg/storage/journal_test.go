package storage

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndGet(t *testing.T) {
	j := openJournal(t)

	id := uuid.New().String()
	require.NoError(t, j.RecordResult(&Record{
		TaskID: id,
		Host:   "h1",
		Kind:   "task_result",
		Result: map[string]any{"failed": false, "stdout": "hi\n"},
	}))

	rec, err := j.GetResult(id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "h1", rec.Host)
	assert.Equal(t, "hi\n", rec.Result["stdout"])
	assert.False(t, rec.FinishedAt.IsZero())
}

func TestGetMissing(t *testing.T) {
	j := openJournal(t)

	rec, err := j.GetResult(uuid.New().String())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestListResults(t *testing.T) {
	j := openJournal(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, j.RecordResult(&Record{
			TaskID: uuid.New().String(),
			Host:   "h1",
			Kind:   "task_result",
			Result: map[string]any{"failed": false},
		}))
	}

	records, err := j.ListResults()
	require.NoError(t, err)
	assert.Len(t, records, 3)
}
