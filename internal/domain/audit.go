package domain

import "time"

type AuditEntry struct {
	ID            string    `json:"id"`
	TransType     string    `json:"trans_type"`
	TransTable    string    `json:"trans_table"`
	TransAction   string    `json:"trans_action"`
	TransactionBy *string   `json:"transaction_by"`
	CreatedAt     time.Time `json:"created_at"`
}
