package api

const postCommandMaxSize = 64 * 1024 // 64 KiB

// command result statuses
const (
	resultApplied   = "applied"
	resultDuplicate = "duplicate"
	resultRejected  = "rejected"
)

type commandResult struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// POST /api/board/:id/commands response body
type postCommandsResponse struct {
	Results []commandResult `json:"results"`
	Error   string          `json:"error,omitempty"`
}
