package utils

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

// ReferralType prefixes a referral code with the kind of account that owns it
type ReferralType string

const MemberType ReferralType = "MBR"

// GenerateReferralCode generates a referral code for the specified type
// Format: {TYPE}-{RANDOM} where RANDOM is 6 alphanumeric characters
// Example: MBR-ABC123
func GenerateReferralCode(entityType ReferralType) (string, error) {
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}

	randomStr := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(randomBytes)
	randomStr = strings.ToUpper(randomStr[:6])
	randomStr = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, randomStr)

	if len(randomStr) < 6 {
		randomStr = randomStr + strings.Repeat("0", 6-len(randomStr))
	}
	return string(entityType) + "-" + randomStr, nil
}

// GenerateMemberReferralCode generates a referral code for a network member
func GenerateMemberReferralCode() (string, error) {
	return GenerateReferralCode(MemberType)
}

// NormalizeReferralCode trims and upper-cases a code typed by a user
func NormalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
