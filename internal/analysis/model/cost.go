package model

// TokenBreakdown splits the interaction's token usage for billing purposes.
// NewInput excludes tokens served from the content cache; Output includes
// thinking tokens.
type TokenBreakdown struct {
	NewInput    int64 `json:"new_input"`
	CachedInput int64 `json:"cached_input"`
	Output      int64 `json:"output"`
	Total       int64 `json:"total"`
}

// CostBreakdown itemizes the USD cost of one interaction. StorageCost is only
// present when a fixed-duration storage approximation is configured.
type CostBreakdown struct {
	InputCost     float64  `json:"input_cost"`
	OutputCost    float64  `json:"output_cost"`
	CacheReadCost float64  `json:"cache_read_cost"`
	StorageCost   *float64 `json:"storage_cost,omitempty"`
}

// CostData is the terminal cost-summary fragment of a streamed interaction.
type CostData struct {
	ModelUsed      string         `json:"model_used"`
	Currency       string         `json:"currency"`
	TokenBreakdown TokenBreakdown `json:"token_breakdown"`
	CostBreakdown  CostBreakdown  `json:"cost_breakdown"`
	TotalCost      float64        `json:"total_cost"`
}
