// Package llm wraps genkit behind the two call shapes the compiler needs:
// one-shot structured generation and a bounded tool-using agent call. Every
// call is metered against a per-run token budget.
package llm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/firebase/genkit/go/ai"
)

var (
	// ErrTokenBudgetExceeded means the cumulative token spend crossed the
	// per-run cap. The call that would cross it never starts; there is no
	// silent truncation.
	ErrTokenBudgetExceeded = errors.New("token budget exceeded")
	// ErrIterationCapExceeded means a bounded loop (critic rounds, agent
	// turns) ran out of iterations without converging.
	ErrIterationCapExceeded = errors.New("iteration cap exceeded")
)

// TokenBudget is the process-wide token counter for the current run. It is
// reset at run entry and checked before every model call.
type TokenBudget struct {
	mu   sync.Mutex
	cap  int
	used int
}

// NewTokenBudget builds a budget; cap <= 0 means unlimited.
func NewTokenBudget(cap int) *TokenBudget {
	return &TokenBudget{cap: cap}
}

// Check fails when the budget is already spent. Called before each call.
func (b *TokenBudget) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cap > 0 && b.used >= b.cap {
		return fmt.Errorf("%w: used %d of %d tokens", ErrTokenBudgetExceeded, b.used, b.cap)
	}
	return nil
}

// Record adds a response's actual usage. Crossing the cap here does not
// fail the recording call; the next Check does.
func (b *TokenBudget) Record(usage *ai.GenerationUsage) {
	if usage == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used += usage.InputTokens + usage.OutputTokens
}

// Used returns the cumulative spend.
func (b *TokenBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Reset zeroes the counter at run entry.
func (b *TokenBudget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used = 0
}
