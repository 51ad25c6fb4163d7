package search

import "sync"

// Level is a priority band for queued search requests. Higher-priority
// levels are always dequeued before lower ones, FIFO within a level.
type Level int

const (
	LevelCritical Level = iota
	LevelHigh
	LevelNormal
	LevelLow
	numLevels
)

// QueueConfig bounds each level's capacity and the fairness cadence that
// keeps Low from starving, plus the per-agent submission rate the
// Orchestrator enforces before a request ever reaches the queue.
type QueueConfig struct {
	Capacity  int
	FairnessK int

	// PerAgentRateLimit/PerAgentBurst bound how often a single agent may
	// submit a search; zero disables rate limiting entirely.
	PerAgentRateLimit float64
	PerAgentBurst     int
}

// DefaultQueueConfig returns the default priority queue sizing.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{Capacity: 100, FairnessK: 16, PerAgentRateLimit: 20, PerAgentBurst: 40}
}

// priorityQueue is a bounded, four-level FIFO queue. On overflow the
// oldest entry at that level is dropped, not the incoming one, so a
// burst of low-priority traffic can't lock out of being queued at all.
type priorityQueue struct {
	mu      sync.Mutex
	cfg     QueueConfig
	levels  [numLevels][]*queueItem
	notify  chan struct{}
	dequeue uint64 // count of dequeues so far, for fairness rotation
}

func newPriorityQueue(cfg QueueConfig) *priorityQueue {
	return &priorityQueue{cfg: cfg, notify: make(chan struct{}, 1)}
}

// Push enqueues item at level, evicting and returning the oldest item at
// that level if it was already at capacity.
func (q *priorityQueue) Push(level Level, item *queueItem) (evicted *queueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	bucket := q.levels[level]
	if len(bucket) >= q.cfg.Capacity {
		evicted = bucket[0]
		bucket = bucket[1:]
	}
	q.levels[level] = append(bucket, item)
	q.signal()
	return evicted
}

func (q *priorityQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop removes and returns the next item per strict priority with the
// every-Kth-dequeue fairness rule, and whether one was found.
func (q *priorityQueue) pop() (*queueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.dequeue++
	if q.cfg.FairnessK > 0 && q.dequeue%uint64(q.cfg.FairnessK) == 0 {
		for lvl := LevelHigh; lvl < numLevels; lvl++ {
			if item, ok := q.popLevelLocked(lvl); ok {
				return item, true
			}
		}
	}

	for lvl := LevelCritical; lvl < numLevels; lvl++ {
		if item, ok := q.popLevelLocked(lvl); ok {
			return item, true
		}
	}
	return nil, false
}

func (q *priorityQueue) popLevelLocked(lvl Level) (*queueItem, bool) {
	bucket := q.levels[lvl]
	if len(bucket) == 0 {
		return nil, false
	}
	item := bucket[0]
	q.levels[lvl] = bucket[1:]
	return item, true
}

// Len reports the total number of queued items across all levels, for
// diagnostics and tests.
func (q *priorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, bucket := range q.levels {
		n += len(bucket)
	}
	return n
}
