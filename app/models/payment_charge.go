package models

import "time"

const (
	ChargeTypeUpfront     = "upfront"
	ChargeTypeSuccessFee  = "success_fee"
	ChargeTypePriorityFee = "priority_fee"
)

const (
	ChargeStatusSucceeded = "succeeded"
	ChargeStatusFailed    = "failed"
	ChargeStatusPending   = "pending"
)

// PaymentCharge records one charge attempt of the post-success sequence.
// The three charge types are independent failures: one failing never rolls
// back or blocks the others. Unique per (run, type) so re-settling a run
// skips already-recorded charge types.
type PaymentCharge struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	RunUUID          string    `gorm:"type:varchar(36);not null;index:ux_payment_charges_run_type,unique,priority:1" json:"run_uuid"`
	ChargeType       string    `gorm:"type:varchar(20);not null;index:ux_payment_charges_run_type,unique,priority:2" json:"charge_type"`
	AmountCents      int64     `gorm:"not null" json:"amount_cents"`
	ExternalChargeID string    `gorm:"type:varchar(191)" json:"external_charge_id,omitempty"`
	Status           string    `gorm:"type:varchar(16);not null" json:"status"`
	ErrorMsg         string    `gorm:"type:text" json:"error_msg,omitempty"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
