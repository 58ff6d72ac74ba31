package journal_test

import (
	"sync"
	"testing"

	"github.com/srg/rsslink/internal/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadSizes(t *testing.T) {
	_, err := journal.New[int](0)
	assert.Error(t, err)

	_, err = journal.New[int](journal.MaxSize + 1)
	assert.Error(t, err)
}

func TestSnapshotKeepsEntries(t *testing.T) {
	j, err := journal.New[string](16)
	require.NoError(t, err)

	j.Record("a")
	j.Record("b")
	j.Record("c")

	assert.Equal(t, []string{"a", "b", "c"}, j.Snapshot())
	assert.Equal(t, []string{"a", "b", "c"}, j.Snapshot(), "snapshot must not consume entries")

	m := j.GetMetrics()
	assert.EqualValues(t, 3, m.Recorded)
	assert.Zero(t, m.Overwritten)
}

func TestSnapshotOfEmptyJournal(t *testing.T) {
	j, err := journal.New[int](16)
	require.NoError(t, err)

	assert.Empty(t, j.Snapshot())
	assert.Zero(t, j.GetMetrics().Recorded)
}

func TestOverflowKeepsNewest(t *testing.T) {
	j, err := journal.New[int](8)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		j.Record(i)
	}

	entries := j.Snapshot()
	require.NotEmpty(t, entries)
	assert.LessOrEqual(t, len(entries), 16)
	assert.Equal(t, 99, entries[len(entries)-1])
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1]+1, entries[i], "entries must stay contiguous and ordered")
	}

	m := j.GetMetrics()
	assert.EqualValues(t, 100, m.Recorded)
	assert.Positive(t, m.Overwritten)
}

func TestConcurrentRecord(t *testing.T) {
	j, err := journal.New[int](1024)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				j.Record(i)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, j.Snapshot(), 200)
	assert.EqualValues(t, 200, j.GetMetrics().Recorded)
}
