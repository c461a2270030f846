package types

import "strings"

// Address is the delivery address snapshot stored on orders. Stored as jsonb.
type Address struct {
	Line1    string `json:"line1" validate:"required"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city" validate:"required"`
	State    string `json:"state" validate:"required"`
	Country  string `json:"country" validate:"required"`
	Phone    string `json:"phone" validate:"required"`
	Landmark string `json:"landmark,omitempty"`
}

// Normalized returns a copy with whitespace trimmed and the state upper-cased,
// matching how delivery zones are keyed.
func (a Address) Normalized() Address {
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = strings.TrimSpace(a.Line2)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.ToUpper(strings.TrimSpace(a.State))
	a.Country = strings.TrimSpace(a.Country)
	a.Phone = strings.TrimSpace(a.Phone)
	a.Landmark = strings.TrimSpace(a.Landmark)
	return a
}
