package dto

import (
	"time"
)

// CreateJobRequest represents the request to create a job
type CreateJobRequest struct {
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description" binding:"required"`
	Budget      int64      `json:"budget" binding:"required,gt=0"`
	Currency    string     `json:"currency" binding:"required"`
	Region      *string    `json:"region"`
	DeadlineAt  *time.Time `json:"deadline_at"`
}

// RejectJobRequest carries the moderator's reason
type RejectJobRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// SubmitApplicationRequest represents a professional's bid
type SubmitApplicationRequest struct {
	BidAmount    int64  `json:"bid_amount" binding:"required,gt=0"`
	Proposal     string `json:"proposal" binding:"required"`
	PayoutHandle string `json:"payout_handle" binding:"required"`
}

// FundJobRequest names the wallet to charge
type FundJobRequest struct {
	PayerHandle string `json:"payer_handle" binding:"required"`
}

// SubmitDeliverableRequest carries an opaque reference to the delivered work
type SubmitDeliverableRequest struct {
	DeliverableRef string `json:"deliverable_ref" binding:"required"`
}

// OpenDisputeRequest represents the request to raise a dispute
type OpenDisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ResolveDisputeRequest represents an administrator's binding decision
type ResolveDisputeRequest struct {
	Outcome       string `json:"outcome" binding:"required,oneof=RELEASE REFUND"`
	Justification string `json:"justification" binding:"required"`
}
