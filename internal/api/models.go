package api

import "time"

type interactionRequest struct {
	WalletAddress string `json:"wallet_address"`
	Interactions  int    `json:"interactions"`
}

type interactionResponse struct {
	WalletAddress  string  `json:"wallet_address"`
	Score          float64 `json:"score"`
	TotalResonance int     `json:"total_resonance"`
	SyncQueued     bool    `json:"sync_queued"`
}

type followRequest struct {
	OwnerAddress    string `json:"owner_address"`
	FollowerAddress string `json:"follower_address"`
}

type inviteRequest struct {
	GateID        string `json:"gate_id"`
	WalletAddress string `json:"wallet_address"`
}

type inviteResponse struct {
	InviteLink string    `json:"invite_link"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	SyncQueued bool      `json:"sync_queued"`
}

type scoreResponse struct {
	WalletAddress  string  `json:"wallet_address"`
	Score          float64 `json:"score"`
	AvgFollower    float64 `json:"avg_follower_score"`
	Followers      int     `json:"followers"`
	TotalResonance int     `json:"total_resonance"`
	LedgerScore    int     `json:"ledger_score"`
}

type depthResponse struct {
	Depth int `json:"depth"`
}
