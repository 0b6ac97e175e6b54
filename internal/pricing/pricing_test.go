package pricing

import (
	"math"
	"testing"

	"octo/internal/message"
)

func testTable() Table {
	return Table{
		"fast-model": {InputPer1M: 0.5, OutputPer1M: 1.5},
		"big-model":  {InputPer1M: 3.0, OutputPer1M: 15.0},
	}
}

func TestCost(t *testing.T) {
	table := testTable()
	cost, ok := table.Cost("fast-model", message.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 2_000_000})
	if !ok {
		t.Fatal("fast-model should be priced")
	}
	if math.Abs(cost-3.5) > 1e-9 {
		t.Errorf("cost = %f, want 3.5", cost)
	}
}

func TestUnknownModelPricesAtZero(t *testing.T) {
	a := NewAccountant(testTable())
	var warned []string
	a.OnUnknownModel = func(id string) { warned = append(warned, id) }

	cost := a.Record("mystery-model", message.TokenUsage{PromptTokens: 5000, CompletionTokens: 100})
	if cost != 0 {
		t.Errorf("unknown model cost = %f, want 0", cost)
	}
	a.Record("mystery-model", message.TokenUsage{PromptTokens: 1})
	if len(warned) != 1 {
		t.Errorf("warned %d times, want once", len(warned))
	}
}

func TestAccumulationMatchesPerTurnSum(t *testing.T) {
	a := NewAccountant(testTable())
	turns := []message.TokenUsage{
		{PromptTokens: 1200, CompletionTokens: 300},
		{PromptTokens: 4800, CompletionTokens: 950},
		{PromptTokens: 90_000, CompletionTokens: 12_345},
	}
	var sum float64
	for _, u := range turns {
		sum += a.Record("big-model", u)
	}
	usage, total := a.Totals()
	if math.Abs(total-sum) > 1e-9 {
		t.Errorf("accumulated %f, per-turn sum %f", total, sum)
	}
	if usage.PromptTokens != 96_000 || usage.CompletionTokens != 13_595 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestReset(t *testing.T) {
	a := NewAccountant(testTable())
	a.Record("big-model", message.TokenUsage{PromptTokens: 100, CompletionTokens: 100})
	a.Reset()
	usage, cost := a.Totals()
	if cost != 0 || usage.PromptTokens != 0 || usage.CompletionTokens != 0 {
		t.Errorf("reset left usage=%+v cost=%f", usage, cost)
	}
}
