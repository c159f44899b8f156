package bankaccount

import (
	"strings"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/domain"
)

// BankDetails is a bank transfer destination as submitted by a client.
type BankDetails struct {
	HolderName    string `json:"holder_name"`
	AccountNumber string `json:"account_number"`
	RoutingNumber string `json:"routing_number,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
	Country       string `json:"country"`
}

// CardDetails is a card payout destination as submitted by a client.
type CardDetails struct {
	HolderName string `json:"holder_name"`
	Number     string `json:"number"`
	Expiry     string `json:"expiry"`
	CVV        string `json:"cvv"`
	Country    string `json:"country,omitempty"`
}

// Destination carries exactly one of Bank or Card.
type Destination struct {
	Bank *BankDetails `json:"bank,omitempty"`
	Card *CardDetails `json:"card,omitempty"`
}

// Submission is a payout destination as a client posts it: the flat bank
// fields, or a nested bank or card object.
type Submission struct {
	BankName          string       `json:"bank_name,omitempty"`
	AccountNumber     string       `json:"account_number,omitempty"`
	AccountHolderName string       `json:"account_holder_name,omitempty"`
	Country           string       `json:"country,omitempty"`
	RoutingNumber     string       `json:"routing_number,omitempty"`
	BankCode          string       `json:"bank_code,omitempty"`
	Bank              *BankDetails `json:"bank,omitempty"`
	Card              *CardDetails `json:"card,omitempty"`
}

func (s Submission) flat() bool {
	return s.BankName != "" || s.AccountNumber != "" || s.AccountHolderName != "" ||
		s.Country != "" || s.RoutingNumber != "" || s.BankCode != ""
}

// Empty reports whether no destination form was filled in.
func (s Submission) Empty() bool {
	return !s.flat() && s.Bank == nil && s.Card == nil
}

// Destination maps s onto a Destination. Exactly one form must be used.
func (s Submission) Destination() (Destination, error) {
	forms := 0
	for _, used := range []bool{s.flat(), s.Bank != nil, s.Card != nil} {
		if used {
			forms++
		}
	}
	switch {
	case forms == 0:
		return Destination{}, domain.NewValidationError("payout_details", domain.ReasonEmpty, "bank account or card details are required")
	case forms > 1:
		return Destination{}, domain.NewValidationError("payout_details", domain.ReasonInvalidFormat, "use the flat bank fields, bank or card, not several")
	case s.Bank != nil:
		return Destination{Bank: s.Bank}, nil
	case s.Card != nil:
		return Destination{Card: s.Card}, nil
	default:
		return Destination{Bank: &BankDetails{
			HolderName:    s.AccountHolderName,
			AccountNumber: s.AccountNumber,
			RoutingNumber: s.RoutingNumber,
			BankCode:      s.BankCode,
			BankName:      s.BankName,
			Country:       s.Country,
		}}, nil
	}
}

// Kind returns domain.DestinationBank or domain.DestinationCard.
func (d Destination) Kind() string {
	if d.Card != nil {
		return domain.DestinationCard
	}
	return domain.DestinationBank
}

func firstFailure(results ...Result) error {
	for _, r := range results {
		if !r.OK {
			return r.Err()
		}
	}
	return nil
}

// ValidateBank returns the first failing field of d, if any.
func ValidateBank(d BankDetails) error {
	return firstFailure(
		ValidateHolderName(d.HolderName),
		ValidateAccountNumber(d.AccountNumber),
		ValidateRoutingNumber(d.RoutingNumber, d.Country),
	)
}

// ValidateCard returns the first failing field of d, if any.
func ValidateCard(d CardDetails, now time.Time) error {
	return firstFailure(
		ValidateHolderName(d.HolderName),
		ValidateCardNumber(d.Number),
		ValidateExpiry(d.Expiry, now),
		ValidateCVV(d.CVV, d.Number),
	)
}

// Validate checks that exactly one destination is present and valid.
func (d Destination) Validate(now time.Time) error {
	switch {
	case d.Bank != nil && d.Card != nil:
		return domain.NewValidationError("payout_details", domain.ReasonInvalidFormat, "provide either bank or card details, not both")
	case d.Bank != nil:
		return ValidateBank(*d.Bank)
	case d.Card != nil:
		return ValidateCard(*d.Card, now)
	default:
		return domain.NewValidationError("payout_details", domain.ReasonEmpty, "bank or card details are required")
	}
}

// Number returns the normalized account or card number.
func (d Destination) Number() string {
	if d.Card != nil {
		return normalizeCard(d.Card.Number)
	}
	if d.Bank != nil {
		return DigitsOnly(d.Bank.AccountNumber)
	}
	return ""
}

// Last4 returns the last four digits of the destination number.
func (d Destination) Last4() string {
	n := d.Number()
	if len(n) <= 4 {
		return n
	}
	return n[len(n)-4:]
}

// HolderName returns the destination's account holder.
func (d Destination) HolderName() string {
	if d.Card != nil {
		return strings.TrimSpace(d.Card.HolderName)
	}
	if d.Bank != nil {
		return strings.TrimSpace(d.Bank.HolderName)
	}
	return ""
}

// Country returns the upper-cased destination country.
func (d Destination) Country() string {
	var c string
	if d.Card != nil {
		c = d.Card.Country
	} else if d.Bank != nil {
		c = d.Bank.Country
	}
	return strings.ToUpper(strings.TrimSpace(c))
}
