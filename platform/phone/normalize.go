// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "BR"

// maxNationalDigits is the longest digit run treated as lacking a country prefix.
const maxNationalDigits = 11

// Normalizer builds canonical comparison keys for phone numbers of one home region.
// Keys are used for matching only and are never displayed.
type Normalizer struct {
	region      string
	countryCode string
	trunkPrefix string
}

// NewNormalizer creates a normalizer for the given ISO region (e.g. "BR").
func NewNormalizer(region string) Normalizer {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = DefaultRegion
	}

	countryCode := ""
	if code := phonenumbers.GetCountryCodeForRegion(region); code > 0 {
		countryCode = strconv.Itoa(code)
	}

	trunk := phonenumbers.GetNddPrefixForRegion(region, true)
	if len(trunk) != 1 {
		trunk = "0"
	}

	return Normalizer{region: region, countryCode: countryCode, trunkPrefix: trunk}
}

// Region returns the ISO region the normalizer was built for.
func (n Normalizer) Region() string { return n.region }

// Key returns the canonical digit string for raw, or "" when raw carries no digits.
//
// Numbers written with "+" or "00" already carry their country prefix. Anything else
// loses one leading trunk digit and gets the region's country code when at most
// eleven digits remain.
func (n Normalizer) Key(raw string) string {
	trimmed := strings.TrimSpace(raw)
	digits := onlyDigits(trimmed)
	if digits == "" {
		return ""
	}

	if strings.HasPrefix(trimmed, "+") {
		return digits
	}
	if strings.HasPrefix(digits, "00") {
		return strings.TrimLeft(digits[2:], "0")
	}

	if strings.HasPrefix(digits, n.trunkPrefix) {
		digits = digits[1:]
	}
	if digits == "" {
		return ""
	}

	if len(digits) <= maxNationalDigits && n.countryCode != "" {
		digits = n.countryCode + digits
	}
	return digits
}

// Suffix returns the last digits of key used for prefix-insensitive matching.
func Suffix(key string, digits int) string {
	if digits <= 0 || len(key) <= digits {
		return key
	}
	return key[len(key)-digits:]
}

// DisplayE164 formats a phone number to E.164 for storage and display. If parsing fails,
// it returns the trimmed input.
func (n Normalizer) DisplayE164(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, n.region)
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

func onlyDigits(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
