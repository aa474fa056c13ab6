package model

import "time"

// Category is a spending or income category owned by a user.
type Category struct {
	CreatedAt   time.Time
	OwnerID     string
	Name        string
	Description string
	ID          int64
}

// CounterpartyAccount is a known party on the other side of transactions.
type CounterpartyAccount struct {
	CreatedAt time.Time
	OwnerID   string
	Name      string
	IBAN      string
	ID        int64
}
