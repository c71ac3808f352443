package workload

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

var messageTemplates = []string{
	"system running normally",
	"memory usage: {usage}%",
	"cpu temperature: {temp}C",
	"network connection lost",
	"database query timed out",
	"file read failed",
	"sensor reading out of range",
	"camera image blurred",
	"disk space low",
	"device restarted",
}

// lockedSource is a rand.Source that is safe to share across goroutines
type lockedSource struct {
	mu  sync.Mutex
	src rand.Source
}

func (s *lockedSource) Int63() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Int63()
}

func (s *lockedSource) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src.Seed(seed)
}

// Generator produces WorkItems. The field set is fixed; the message text and
// auxiliary values come from the configured random source.
type Generator struct {
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator creates a generator drawing from src. A nil src seeds from the clock.
// Generators are safe for concurrent use.
func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Generator{
		rng: rand.New(&lockedSource{src: src}),
		now: time.Now,
	}
}

// WithClock overrides the timestamp source, used by tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the record with sequence number seq for deviceID.
func (g *Generator) Generate(deviceID string, seq int) WorkItem {
	level := Levels[g.rng.Intn(len(Levels))]
	template := messageTemplates[g.rng.Intn(len(messageTemplates))]

	message := template
	switch {
	case strings.Contains(template, "{usage}"):
		message = strings.Replace(template, "{usage}", fmt.Sprintf("%d", 50+g.rng.Intn(46)), 1)
	case strings.Contains(template, "{temp}"):
		message = strings.Replace(template, "{temp}", fmt.Sprintf("%d", 40+g.rng.Intn(46)), 1)
	}

	return WorkItem{
		DeviceID: deviceID,
		Sequence: seq,
		Level:    level,
		Message:  fmt.Sprintf("%s (#%d)", message, seq),
		Data: LogData{
			TestID:      seq,
			Timestamp:   g.now(),
			RandomValue: g.rng.Float64(),
			Sequence:    seq,
		},
	}
}

// ForDevice generates n records for deviceID with sequence numbers 0..n-1.
func (g *Generator) ForDevice(deviceID string, n int) []WorkItem {
	items := make([]WorkItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, g.Generate(deviceID, i))
	}
	return items
}

// DeviceID formats the identifier of the n-th simulated device.
func DeviceID(prefix string, n int) string {
	return fmt.Sprintf("%s%03d", prefix, n)
}
