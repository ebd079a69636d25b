package harvest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func makeItems(n int) []WorkItem {
	items := make([]WorkItem, n)
	for i := range items {
		items[i] = WorkItem{Index: i, Record: RawRecord{AwardID: string(rune('A' + i))}}
	}
	return items
}

// drainFeeds collects every item from every feed, tracking how many times
// each index appears.
func drainFeeds(feeds []<-chan WorkItem) map[int]int {
	seen := make(map[int]int)
	for _, feed := range feeds {
		for item := range feed {
			seen[item.Index]++
		}
	}
	return seen
}

func TestStaticPartitionerCoversEveryItemOnce(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		items   int
		workers int
	}{
		{10, 4},
		{4, 4},
		{3, 4},
		{1, 1},
		{25, 4},
	} {
		items := makeItems(tc.items)
		feeds := StaticPartitioner{}.Assign(items, tc.workers)
		require.Len(t, feeds, tc.workers)

		seen := drainFeeds(feeds)
		require.Len(t, seen, tc.items)
		for idx, n := range seen {
			require.Equalf(t, 1, n, "item %d assigned %d times", idx, n)
		}
	}
}

func TestStaticPartitionerChunksAreContiguous(t *testing.T) {
	t.Parallel()

	feeds := StaticPartitioner{}.Assign(makeItems(10), 4)

	var chunks [][]int
	for _, feed := range feeds {
		var chunk []int
		for item := range feed {
			chunk = append(chunk, item.Index)
		}
		chunks = append(chunks, chunk)
	}

	// ceil(10/4) = 3, so the split is 3,3,3,1.
	require.Equal(t, [][]int{{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, {9}}, chunks)
}

func TestQueuePartitionerSharesOneFeed(t *testing.T) {
	t.Parallel()

	items := makeItems(9)
	feeds := QueuePartitioner{}.Assign(items, 3)
	require.Len(t, feeds, 3)
	require.Equal(t, feeds[0], feeds[1])
	require.Equal(t, feeds[1], feeds[2])

	seen := drainFeeds(feeds[:1])
	require.Len(t, seen, 9)
}

func TestPartitionerFor(t *testing.T) {
	t.Parallel()

	p, err := PartitionerFor("")
	require.NoError(t, err)
	require.IsType(t, StaticPartitioner{}, p)

	p, err = PartitionerFor("static")
	require.NoError(t, err)
	require.IsType(t, StaticPartitioner{}, p)

	p, err = PartitionerFor("queue")
	require.NoError(t, err)
	require.IsType(t, QueuePartitioner{}, p)

	p, err = PartitionerFor("dynamic")
	require.NoError(t, err)
	require.IsType(t, QueuePartitioner{}, p)

	_, err = PartitionerFor("round-robin")
	require.Error(t, err)
	require.Contains(t, err.Error(), "round-robin")
}
