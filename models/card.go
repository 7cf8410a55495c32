package models

// Card statuses.
const (
	CardActive   = "ACTIVE"
	CardInactive = "INACTIVE"
	CardRedeemed = "REDEEMED"
)

// Card is a customer's stamp card within a loyalty program.
type Card struct {
	CardID       int64  `json:"cardId"`
	ProgramID    int64  `json:"programId"`
	ProgramName  string `json:"programName"`
	MerchantName string `json:"merchantName"`
	RewardName   string `json:"rewardName"`
	StampsCount  int    `json:"stampsCount"`
	StampsNeeded int    `json:"stampsNeeded"`
	Status       string `json:"status"`
	HasReward    bool   `json:"hasReward"`
}

// CustomerCardsResponse wraps the card listing endpoint's payload.
type CustomerCardsResponse struct {
	Cards []Card `json:"cards"`
}

// RedeemResult is the outcome of consuming an earned reward.
type RedeemResult struct {
	OK          bool   `json:"ok"`
	RewardID    string `json:"rewardId"`
	CardID      int64  `json:"cardId"`
	StampsAfter int    `json:"stampsAfter"`
}
