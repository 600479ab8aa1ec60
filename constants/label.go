package constants

import "strings"

// Entity labels requested from the classifier when none are configured.
const (
	LabelPerson           = "person"
	LabelCreditCard       = "credit card number"
	LabelEmail            = "email"
	LabelPhone            = "phone number"
	LabelGender           = "gender"
	LabelMaritalStatus    = "marital status"
	LabelDate             = "date"
	LabelSSN              = "social security number"
	LabelHealthInsurance  = "health insurance"
	LabelLocation         = "location"
	DefaultClassThreshold = 0.28
)

var defaultLabels = []string{
	LabelPerson,
	LabelCreditCard,
	LabelEmail,
	LabelPhone,
	LabelGender,
	LabelMaritalStatus,
	LabelDate,
	LabelSSN,
	LabelHealthInsurance,
	LabelLocation,
}

// DefaultLabels returns a copy of the default label set.
func DefaultLabels() []string {
	out := make([]string, len(defaultLabels))
	copy(out, defaultLabels)
	return out
}

// CanonicalLabel normalizes a label returned by a classifier.
// It returns false for empty input.
func CanonicalLabel(input string) (string, bool) {
	normalized := strings.Join(strings.Fields(strings.ToLower(input)), " ")
	if normalized == "" {
		return "", false
	}

	synonyms := map[string]string{
		"name":          LabelPerson,
		"per":           LabelPerson,
		"email address": LabelEmail,
		"e-mail":        LabelEmail,
		"phone":         LabelPhone,
		"telephone":     LabelPhone,
		"ssn":           LabelSSN,
		"address":       LabelLocation,
		"loc":           LabelLocation,
		"credit card":   LabelCreditCard,
	}
	if l, ok := synonyms[normalized]; ok {
		return l, true
	}
	return normalized, true
}
