// Package pricing converts token usage into dollars against a static
// per-model price table.
package pricing

import (
	"sync"

	"octo/internal/message"
)

// Price is dollars per million tokens.
type Price struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Table maps model id to price. Pure data; unknown models price at
// zero and are reported once via the warning hook.
type Table map[string]Price

// Cost computes one turn's dollar cost. The second return is false for
// models missing from the table.
func (t Table) Cost(modelID string, usage message.TokenUsage) (float64, bool) {
	p, ok := t[modelID]
	if !ok {
		return 0, false
	}
	cost := float64(usage.PromptTokens)/1e6*p.InputPer1M +
		float64(usage.CompletionTokens)/1e6*p.OutputPer1M
	return cost, true
}

// Accountant accumulates per-session usage and cost.
type Accountant struct {
	table Table

	mu     sync.Mutex
	usage  message.TokenUsage
	cost   float64
	warned map[string]bool

	// OnUnknownModel fires once per unknown model id.
	OnUnknownModel func(modelID string)
}

func NewAccountant(table Table) *Accountant {
	return &Accountant{table: table, warned: make(map[string]bool)}
}

// Record adds one turn and returns its cost.
func (a *Accountant) Record(modelID string, usage message.TokenUsage) float64 {
	cost, known := a.table.Cost(modelID, usage)

	a.mu.Lock()
	a.usage = a.usage.Add(usage)
	a.cost += cost
	warn := !known && !a.warned[modelID]
	if warn {
		a.warned[modelID] = true
	}
	hook := a.OnUnknownModel
	a.mu.Unlock()

	if warn && hook != nil {
		hook(modelID)
	}
	return cost
}

// Totals reports the session's running usage and dollar cost.
func (a *Accountant) Totals() (message.TokenUsage, float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage, a.cost
}

// Reset clears the accumulator; only a new session does this.
func (a *Accountant) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage = message.TokenUsage{}
	a.cost = 0
}
