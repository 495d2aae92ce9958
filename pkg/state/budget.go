package state

import "time"

// CycleBudget tracks remaining query resources. All fields are monotonically
// non-increasing: charges only subtract, and a zero limit at construction
// means "unlimited" for tokens and time (cycles are always bounded).
type CycleBudget struct {
	TokensRemaining int           `json:"tokens_remaining"`
	TimeRemaining   time.Duration `json:"time_remaining"`
	CyclesRemaining int           `json:"cycles_remaining"`

	tokenLimited bool
	timeLimited  bool
}

// NewCycleBudget creates a budget. tokens <= 0 or duration <= 0 disable the
// respective limit; cycles must be >= 1.
func NewCycleBudget(tokens int, duration time.Duration, cycles int) *CycleBudget {
	return &CycleBudget{
		TokensRemaining: tokens,
		TimeRemaining:   duration,
		CyclesRemaining: cycles,
		tokenLimited:    tokens > 0,
		timeLimited:     duration > 0,
	}
}

// ChargeTokens subtracts used tokens, clamping at zero.
func (b *CycleBudget) ChargeTokens(n int) {
	if !b.tokenLimited || n <= 0 {
		return
	}
	b.TokensRemaining -= n
	if b.TokensRemaining < 0 {
		b.TokensRemaining = 0
	}
}

// ChargeTime subtracts elapsed time, clamping at zero.
func (b *CycleBudget) ChargeTime(d time.Duration) {
	if !b.timeLimited || d <= 0 {
		return
	}
	b.TimeRemaining -= d
	if b.TimeRemaining < 0 {
		b.TimeRemaining = 0
	}
}

// ChargeCycle consumes one cycle.
func (b *CycleBudget) ChargeCycle() {
	if b.CyclesRemaining > 0 {
		b.CyclesRemaining--
	}
}

// Exhausted reports whether any limited resource has run out.
func (b *CycleBudget) Exhausted() bool {
	if b.tokenLimited && b.TokensRemaining <= 0 {
		return true
	}
	if b.timeLimited && b.TimeRemaining <= 0 {
		return true
	}
	return b.CyclesRemaining <= 0
}

// TokenLimited reports whether a token limit is in force.
func (b *CycleBudget) TokenLimited() bool { return b.tokenLimited }

// TimeLimited reports whether a time limit is in force.
func (b *CycleBudget) TimeLimited() bool { return b.timeLimited }

// Clone copies the budget.
func (b *CycleBudget) Clone() *CycleBudget {
	out := *b
	return &out
}
