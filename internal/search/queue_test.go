package search

import "testing"

func TestPushEvictsOldestOnOverflowSameLevel(t *testing.T) {
	q := newPriorityQueue(QueueConfig{Capacity: 2, FairnessK: 16})
	first := &queueItem{}
	second := &queueItem{}
	third := &queueItem{}

	if evicted := q.Push(LevelNormal, first); evicted != nil {
		t.Fatalf("unexpected eviction on first push")
	}
	if evicted := q.Push(LevelNormal, second); evicted != nil {
		t.Fatalf("unexpected eviction on second push")
	}
	evicted := q.Push(LevelNormal, third)
	if evicted != first {
		t.Fatalf("expected oldest (first) to be evicted, got %v", evicted)
	}
	if q.Len() != 2 {
		t.Fatalf("expected queue length 2, got %d", q.Len())
	}
}

func TestPopStrictPriorityOrder(t *testing.T) {
	q := newPriorityQueue(QueueConfig{Capacity: 10, FairnessK: 0})
	low := &queueItem{}
	critical := &queueItem{}
	high := &queueItem{}

	q.Push(LevelLow, low)
	q.Push(LevelCritical, critical)
	q.Push(LevelHigh, high)

	item, ok := q.pop()
	if !ok || item != critical {
		t.Fatalf("expected critical item first")
	}
	item, ok = q.pop()
	if !ok || item != high {
		t.Fatalf("expected high item second")
	}
	item, ok = q.pop()
	if !ok || item != low {
		t.Fatalf("expected low item third")
	}
	if _, ok := q.pop(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestFairnessRuleSkipsCriticalOnKthDequeue(t *testing.T) {
	q := newPriorityQueue(QueueConfig{Capacity: 10, FairnessK: 2})
	crit1 := &queueItem{}
	crit2 := &queueItem{}
	normal := &queueItem{}

	q.Push(LevelCritical, crit1)
	q.Push(LevelCritical, crit2)
	q.Push(LevelNormal, normal)

	first, _ := q.pop() // dequeue #1: strict priority -> critical
	if first != crit1 {
		t.Fatalf("expected first dequeue to be critical")
	}
	second, _ := q.pop() // dequeue #2: fairness kicks in -> skip critical
	if second != normal {
		t.Fatalf("expected fairness dequeue to skip critical, got %v", second)
	}
}
