package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EntryType is the accounting direction of a ledger entry.
type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// LedgerEntry records one applied balance mutation.
type LedgerEntry struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       string             `bson:"user_id" json:"user_id"`
	Type         EntryType          `bson:"type" json:"type"`
	Amount       int64              `bson:"amount" json:"amount"`
	BalanceAfter int64              `bson:"balance_after" json:"balance_after"`
	Reference    string             `bson:"reference,omitempty" json:"reference,omitempty"` // Task id for try-on charges and refunds
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}
