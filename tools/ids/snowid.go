package ids

import (
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits = 10
	seqBits  = 12
	maxNode  = 1<<nodeBits - 1
	seqMask  = 1<<seqBits - 1
)

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator hands out 64-bit snowflake ids: 41 bits of milliseconds since
// 2020-01-01, 10 bits of node id, 12 bits of sequence.
type Generator struct {
	mu       sync.Mutex
	nodeID   int64
	seq      int64
	lastTSMS int64
	now      func() time.Time
}

func NewGenerator(nodeID int64) *Generator {
	if nodeID < 0 || nodeID > maxNode {
		nodeID = 1
	}
	return &Generator{nodeID: nodeID, now: time.Now}
}

var (
	defaultGen *Generator
	once       sync.Once
)

func initDefault() {
	once.Do(func() {
		defaultGen = NewGenerator(1)
	})
}

// SetNodeID sets the node part (0~1023) of the default generator. Call it from
// main before the first id is generated so instances never collide.
func SetNodeID(nodeID int64) {
	initDefault()
	if nodeID < 0 || nodeID > maxNode {
		nodeID = 1
	}
	defaultGen.mu.Lock()
	defaultGen.nodeID = nodeID
	defaultGen.mu.Unlock()
}

func Generate() int64 {
	initDefault()
	return defaultGen.Next()
}

// NewSessionID returns a decimal snowflake used as the transport session id.
func NewSessionID() string {
	return strconv.FormatInt(Generate(), 10)
}

func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UnixMilli()
	if now < g.lastTSMS {
		// clock went backwards: keep issuing from the last timestamp
		now = g.lastTSMS
	}
	if now == g.lastTSMS {
		g.seq = (g.seq + 1) & seqMask
		if g.seq == 0 {
			// sequence exhausted for this millisecond
			for now <= g.lastTSMS {
				time.Sleep(100 * time.Microsecond)
				now = g.now().UnixMilli()
			}
		}
	} else {
		g.seq = 0
	}
	g.lastTSMS = now

	ts := (now - epoch.UnixMilli()) & (1<<41 - 1)
	return ts<<(nodeBits+seqBits) | g.nodeID<<seqBits | g.seq
}
