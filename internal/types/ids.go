package types

import "github.com/google/uuid"

// NewRuleSetID generates a UUIDv7 rule set identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewRuleSetID() RuleSetID {
	return RuleSetID(uuid.Must(uuid.NewV7()).String())
}

// NewRuleID generates a UUIDv7 rule identifier.
func NewRuleID() RuleID {
	return RuleID(uuid.Must(uuid.NewV7()).String())
}

// ParseRuleSetID validates and converts a string to RuleSetID.
func ParseRuleSetID(s string) (RuleSetID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return RuleSetID(s), nil
}
