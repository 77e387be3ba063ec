package pipeline

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/limits"
)

// pcmQueue is a bounded queue of PCM blocks decoupling the fixed-rate tick
// from intake/outtake timing jitter. One producer and one consumer per
// queue. When full, the oldest block is dropped so backlog stays bounded.
type pcmQueue struct {
	mu      sync.Mutex
	blocks  [][]int16
	head    int
	count   int
	dropped uint64
}

func newPCMQueue(depth int) (*pcmQueue, error) {
	depth, err := limits.ValidateQueueDepth(depth)
	if err != nil {
		return nil, err
	}
	return &pcmQueue{blocks: make([][]int16, depth)}, nil
}

// Push appends a block, evicting the oldest when the queue is full.
// Returns true if an eviction occurred.
func (q *pcmQueue) Push(block []int16) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if q.count == len(q.blocks) {
		q.head = (q.head + 1) % len(q.blocks)
		q.count--
		q.dropped++
		evicted = true
		logrus.WithFields(logrus.Fields{
			"function":      "Push",
			"depth":         len(q.blocks),
			"total_dropped": q.dropped,
		}).Warn("PCM queue full, dropped oldest block")
	}

	q.blocks[(q.head+q.count)%len(q.blocks)] = block
	q.count++
	return evicted
}

// Pop removes and returns the oldest block, or nil when empty.
func (q *pcmQueue) Pop() []int16 {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	block := q.blocks[q.head]
	q.blocks[q.head] = nil
	q.head = (q.head + 1) % len(q.blocks)
	q.count--
	return block
}

func (q *pcmQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Dropped returns the number of blocks evicted since creation.
func (q *pcmQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// cycleQueue is a bounded queue of sealed cycle payloads on the delivery
// side, with the same single-producer single-consumer drop-oldest policy.
type cycleQueue struct {
	mu      sync.Mutex
	cycles  [][]byte
	head    int
	count   int
	dropped uint64
}

func newCycleQueue(depth int) (*cycleQueue, error) {
	depth, err := limits.ValidateQueueDepth(depth)
	if err != nil {
		return nil, err
	}
	return &cycleQueue{cycles: make([][]byte, depth)}, nil
}

func (q *cycleQueue) Push(cycle []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if q.count == len(q.cycles) {
		q.head = (q.head + 1) % len(q.cycles)
		q.count--
		q.dropped++
		evicted = true
		logrus.WithFields(logrus.Fields{
			"function":      "Push",
			"depth":         len(q.cycles),
			"total_dropped": q.dropped,
		}).Warn("Cycle queue full, dropped oldest cycle")
	}

	q.cycles[(q.head+q.count)%len(q.cycles)] = cycle
	q.count++
	return evicted
}

func (q *cycleQueue) Pop() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	cycle := q.cycles[q.head]
	q.cycles[q.head] = nil
	q.head = (q.head + 1) % len(q.cycles)
	q.count--
	return cycle
}

func (q *cycleQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *cycleQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
