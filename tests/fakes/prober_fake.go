package fakes

import (
	"context"
	"sync"
	"time"
)

// FakeProber answers capability checks from a table and counts calls
type FakeProber struct {
	mu        sync.Mutex
	available map[string]bool
	calls     map[string]int
	inFlight  int
	peak      int

	// Delay is slept before each answer
	Delay time.Duration
}

// NewFakeProber creates a prober from a table
func NewFakeProber(available map[string]bool) *FakeProber {
	p := &FakeProber{available: make(map[string]bool), calls: make(map[string]int)}
	for k, v := range available {
		p.available[k] = v
	}
	return p
}

// IsAvailable implements capability.Prober
func (p *FakeProber) IsAvailable(ctx context.Context, name string) bool {
	p.mu.Lock()
	p.calls[name]++
	available := p.available[name]
	delay := p.Delay
	p.inFlight++
	if p.inFlight > p.peak {
		p.peak = p.inFlight
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
	return available
}

// Set changes one answer
func (p *FakeProber) Set(name string, available bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available[name] = available
}

// Calls returns how often name was probed
func (p *FakeProber) Calls(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

// PeakConcurrency returns the most probes that were ever running at once
func (p *FakeProber) PeakConcurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}
