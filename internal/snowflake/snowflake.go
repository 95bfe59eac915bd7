// ABOUTME: Snowflake-style ID generator for monotonically orderable message IDs
// ABOUTME: 41-bit millisecond timestamp, 10-bit node, 12-bit per-millisecond step

package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

// ErrInvalidNode is returned when the node number is out of range.
var ErrInvalidNode = errors.New("node number must be between 0 and 1023")

// Node generates unique, time-ordered IDs. IDs from a single node are
// strictly increasing, which is what gives messages their per-room total
// order and makes "last read" comparisons a plain integer compare.
type Node struct {
	mu   sync.Mutex
	time int64
	node int64
	step int64
}

// NewNode creates a generator. The node number must be unique per server
// instance when more than one instance shares an ID space.
func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, ErrInvalidNode
	}
	return &Node{node: node}, nil
}

// Generate returns the next ID. Safe for concurrent use.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()

	if now < n.time {
		// Clock moved backwards, hold at the last issued millisecond
		now = n.time
	}

	if n.time == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.time {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.step = 0
	}

	n.time = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
}
