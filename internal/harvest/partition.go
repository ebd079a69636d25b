package harvest

import "fmt"

// Partitioner decides how work items are distributed across workers.
// Assign returns one item feed per worker; feeds are pre-filled and
// closed, and a single shared feed may back several workers.
type Partitioner interface {
	Assign(items []WorkItem, count int) []<-chan WorkItem
}

// StaticPartitioner pre-assigns contiguous chunks of size ceil(N/count).
// No coordination happens after assignment.
type StaticPartitioner struct{}

// Assign splits items into contiguous per-worker chunks.
func (StaticPartitioner) Assign(items []WorkItem, count int) []<-chan WorkItem {
	if count < 1 {
		count = 1
	}
	chunk := (len(items) + count - 1) / count
	feeds := make([]<-chan WorkItem, 0, count)
	for i := 0; i < count; i++ {
		lo := i * chunk
		if lo > len(items) {
			lo = len(items)
		}
		hi := lo + chunk
		if hi > len(items) {
			hi = len(items)
		}
		ch := make(chan WorkItem, hi-lo)
		for _, item := range items[lo:hi] {
			ch <- item
		}
		close(ch)
		feeds = append(feeds, ch)
	}
	return feeds
}

// QueuePartitioner places every item on one shared queue; workers pull
// the next available item until the queue drains. Preferred when per-item
// latency is uneven or a global result cap is in play.
type QueuePartitioner struct{}

// Assign fills a single shared feed and hands it to every worker.
func (QueuePartitioner) Assign(items []WorkItem, count int) []<-chan WorkItem {
	if count < 1 {
		count = 1
	}
	shared := make(chan WorkItem, len(items))
	for _, item := range items {
		shared <- item
	}
	close(shared)
	feeds := make([]<-chan WorkItem, count)
	for i := range feeds {
		feeds[i] = shared
	}
	return feeds
}

// PartitionerFor maps a strategy name from configuration to an
// implementation.
func PartitionerFor(name string) (Partitioner, error) {
	switch name {
	case "", "static":
		return StaticPartitioner{}, nil
	case "queue", "dynamic":
		return QueuePartitioner{}, nil
	default:
		return nil, fmt.Errorf("unknown partition strategy %q", name)
	}
}
