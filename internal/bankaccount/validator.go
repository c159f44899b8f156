// Package bankaccount validates payout destination details. Every function is
// pure: the same input (and clock, where one is taken) yields the same result.
package bankaccount

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/go-playground/validator/v10"
)

// Result is the outcome of a single field check.
type Result struct {
	OK     bool   `json:"ok"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func ok() Result {
	return Result{OK: true}
}

func fail(field, reason string) Result {
	return Result{Field: field, Reason: reason}
}

// Err converts a failed result into a *domain.ValidationError.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return domain.NewValidationError(r.Field, r.Reason, messages[r.Reason])
}

var messages = map[string]string{
	domain.ReasonEmpty:          "value is required",
	domain.ReasonNonDigit:       "value must contain digits only",
	domain.ReasonInvalidLength:  "value has an invalid length",
	domain.ReasonChecksumFailed: "checksum does not match",
	domain.ReasonInvalidFormat:  "value is not in the expected format",
	domain.ReasonInvalidMonth:   "month must be between 01 and 12",
	domain.ReasonExpired:        "card has expired",
	domain.ReasonRequired:       "value is required for this country",
}

var (
	luhn        = validator.New()
	expiryRegex = regexp.MustCompile(`^(\d{2})/(\d{2})$`)
)

// routingCountries lists the countries whose bank transfers require a routing number.
var routingCountries = map[string]struct{}{
	"US": {},
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DigitsOnly strips every non-digit character.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeCard(number string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(number))
}

// ValidateCardNumber checks a 13 to 19 digit PAN with a valid Luhn checksum.
// Spaces and dashes are ignored.
func ValidateCardNumber(number string) Result {
	const field = "card_number"
	n := normalizeCard(number)
	if n == "" {
		return fail(field, domain.ReasonEmpty)
	}
	if !allDigits(n) {
		return fail(field, domain.ReasonNonDigit)
	}
	if len(n) < 13 || len(n) > 19 {
		return fail(field, domain.ReasonInvalidLength)
	}
	if err := luhn.Var(n, "luhn_checksum"); err != nil {
		return fail(field, domain.ReasonChecksumFailed)
	}
	return ok()
}

// ValidateExpiry checks an MM/YY expiry that is not before the month containing now.
func ValidateExpiry(expiry string, now time.Time) Result {
	const field = "expiry"
	expiry = strings.TrimSpace(expiry)
	if expiry == "" {
		return fail(field, domain.ReasonEmpty)
	}
	m := expiryRegex.FindStringSubmatch(expiry)
	if m == nil {
		return fail(field, domain.ReasonInvalidFormat)
	}
	month, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return fail(field, domain.ReasonInvalidMonth)
	}
	year += 2000
	if year < now.Year() || (year == now.Year() && month < int(now.Month())) {
		return fail(field, domain.ReasonExpired)
	}
	return ok()
}

// ValidateCVV expects four digits for American Express (prefix 34 or 37) and three otherwise.
func ValidateCVV(cvv, cardNumber string) Result {
	const field = "cvv"
	cvv = strings.TrimSpace(cvv)
	if cvv == "" {
		return fail(field, domain.ReasonEmpty)
	}
	if !allDigits(cvv) {
		return fail(field, domain.ReasonNonDigit)
	}
	want := 3
	n := normalizeCard(cardNumber)
	if strings.HasPrefix(n, "34") || strings.HasPrefix(n, "37") {
		want = 4
	}
	if len(cvv) != want {
		return fail(field, domain.ReasonInvalidLength)
	}
	return ok()
}

// RoutingRequired reports whether country needs a routing number.
func RoutingRequired(country string) bool {
	_, required := routingCountries[strings.ToUpper(strings.TrimSpace(country))]
	return required
}

// ValidateRoutingNumber checks a nine digit routing number and, for US
// accounts, its ABA check digit. An empty value is accepted unless country
// requires one.
func ValidateRoutingNumber(routing, country string) Result {
	const field = "routing_number"
	routing = strings.TrimSpace(routing)
	if routing == "" {
		if RoutingRequired(country) {
			return fail(field, domain.ReasonRequired)
		}
		return ok()
	}
	if !allDigits(routing) {
		return fail(field, domain.ReasonNonDigit)
	}
	if len(routing) != 9 {
		return fail(field, domain.ReasonInvalidLength)
	}
	if strings.EqualFold(strings.TrimSpace(country), "US") && !abaChecksum(routing) {
		return fail(field, domain.ReasonChecksumFailed)
	}
	return ok()
}

// abaChecksum weights the digits 3, 7, 1 repeating; the sum must be a multiple of ten.
func abaChecksum(routing string) bool {
	weights := [3]int{3, 7, 1}
	sum := 0
	for i, r := range routing {
		sum += int(r-'0') * weights[i%3]
	}
	return sum%10 == 0
}

// ValidateAccountNumber accepts 8 to 17 digits once separators are stripped.
func ValidateAccountNumber(account string) Result {
	const field = "account_number"
	digits := DigitsOnly(account)
	if digits == "" {
		if strings.TrimSpace(account) == "" {
			return fail(field, domain.ReasonEmpty)
		}
		return fail(field, domain.ReasonNonDigit)
	}
	if len(digits) < 8 || len(digits) > 17 {
		return fail(field, domain.ReasonInvalidLength)
	}
	return ok()
}

// ValidateHolderName requires a non-blank account holder name.
func ValidateHolderName(name string) Result {
	if strings.TrimSpace(name) == "" {
		return fail("holder_name", domain.ReasonEmpty)
	}
	return ok()
}
