package tokens

// Budget splits a context window into ceilings.
type Budget struct {
	ContextLimit    int `json:"context_limit"`
	HistoryCeiling  int `json:"history_ceiling"`
	SystemCeiling   int `json:"system_ceiling"`
	ResponseReserve int `json:"response_reserve"`
}

// NewBudget derives the 40/30/20 split of limit using truncating division.
// Negative limits are treated as zero.
func NewBudget(limit int) Budget {
	if limit < 0 {
		limit = 0
	}
	return Budget{
		ContextLimit:    limit,
		HistoryCeiling:  limit * 4 / 10,
		SystemCeiling:   limit * 3 / 10,
		ResponseReserve: limit * 2 / 10,
	}
}

// Measurement is a token count compared against a ceiling.
type Measurement struct {
	Count        int  `json:"count"`
	Ceiling      int  `json:"ceiling"`
	WithinBudget bool `json:"within_budget"`
	Overage      int  `json:"overage"`

	// MessageCount is set when a window was measured.
	MessageCount int `json:"message_count,omitempty"`
}

// Measure compares count to ceiling.
func Measure(count, ceiling int) Measurement {
	overage := count - ceiling
	if overage < 0 {
		overage = 0
	}
	return Measurement{
		Count:        count,
		Ceiling:      ceiling,
		WithinBudget: count <= ceiling,
		Overage:      overage,
	}
}
