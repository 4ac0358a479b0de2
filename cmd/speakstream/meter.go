package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const meterWidth = 40

// meter draws the output level as a single-line bar
type meter struct {
	mu      sync.Mutex
	out     io.Writer
	last    time.Time
	low     *color.Color
	mid     *color.Color
	high    *color.Color
	drawn   bool
	refresh time.Duration
}

func newMeter(out io.Writer) *meter {
	return &meter{
		out:     out,
		low:     color.New(color.FgGreen),
		mid:     color.New(color.FgYellow),
		high:    color.New(color.FgRed),
		refresh: 50 * time.Millisecond,
	}
}

func (m *meter) update(level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if now.Sub(m.last) < m.refresh {
		return
	}
	m.last = now
	fmt.Fprintf(m.out, "\r🔊 %s", m.bar(level))
	m.drawn = true
}

// bar renders level (0..255/128) scaled so a level of 1 fills the bar
func (m *meter) bar(level float64) string {
	n := int(level * meterWidth)
	if n < 0 {
		n = 0
	}
	if n > meterWidth {
		n = meterWidth
	}
	c := m.low
	switch {
	case n > meterWidth*3/4:
		c = m.high
	case n > meterWidth/2:
		c = m.mid
	}
	return c.Sprint(strings.Repeat("█", n)) + strings.Repeat("·", meterWidth-n)
}

func (m *meter) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drawn {
		fmt.Fprintf(m.out, "\r%s\r", strings.Repeat(" ", meterWidth+4))
	}
}
