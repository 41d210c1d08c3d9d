package agent

import (
	"sync"

	"github.com/harun/tandem/pkg/llm"
)

// DefaultLoopThreshold is how many identical consecutive tool calls fail a turn.
const DefaultLoopThreshold = 3

// loopDetector counts consecutive tool calls with the same name and arguments.
type loopDetector struct {
	mu        sync.Mutex
	threshold int
	last      string
	count     int
}

func newLoopDetector(threshold int) *loopDetector {
	if threshold < 2 {
		threshold = DefaultLoopThreshold
	}
	return &loopDetector{threshold: threshold}
}

// observe records call and reports whether it completes a loop.
func (d *loopDetector) observe(call llm.ToolCall) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := call.Name + "\x00" + call.ArgumentsJSON()
	if key == d.last {
		d.count++
	} else {
		d.last = key
		d.count = 1
	}
	return d.count, d.count >= d.threshold
}

func (d *loopDetector) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = ""
	d.count = 0
}
