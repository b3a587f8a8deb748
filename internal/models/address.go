package models

import "time"

// Address statuses. Only the CURRENT address is offered for new deposits,
// but OLD addresses remain valid lookup keys for incoming funds.
const (
	AddressCurrent = "CURRENT"
	AddressOld     = "OLD"
)

// Address maps a deposit address to the account that owns it. Rows are never
// deleted; once assigned, an address is never reassigned to another account.
type Address struct {
	ID        int64     `json:"id" db:"id"`
	Tenant    string    `json:"tenant" db:"tenant"`
	Account   string    `json:"account" db:"account"`
	Symbol    string    `json:"symbol" db:"symbol"`
	Address   string    `json:"address" db:"address"`
	Extra     string    `json:"extra" db:"extra"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Status    string    `json:"status" db:"status"`
}
