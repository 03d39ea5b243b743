package domain

import "unicode"

// MinPasswordLength is the shortest password the policy accepts.
const MinPasswordLength = 8

// PasswordReport is the outcome of evaluating a candidate password against
// the five strength rules. Signup, reset and change-password all use it.
type PasswordReport struct {
	MinLength  bool `json:"min_length"`
	HasUpper   bool `json:"has_upper"`
	HasLower   bool `json:"has_lower"`
	HasNumber  bool `json:"has_number"`
	HasSpecial bool `json:"has_special"`
}

// EvaluatePassword checks p against every rule. Length is counted in runes.
func EvaluatePassword(p string) PasswordReport {
	var r PasswordReport
	n := 0
	for _, c := range p {
		n++
		switch {
		case unicode.IsUpper(c):
			r.HasUpper = true
		case unicode.IsLower(c):
			r.HasLower = true
		case unicode.IsDigit(c):
			r.HasNumber = true
		case unicode.IsLetter(c), unicode.IsSpace(c):
			// uncased letters and whitespace satisfy no rule
		default:
			r.HasSpecial = true
		}
	}
	r.MinLength = n >= MinPasswordLength
	return r
}

// Score is the number of satisfied rules, 0 to 5.
func (r PasswordReport) Score() int {
	score := 0
	for _, ok := range []bool{r.MinLength, r.HasUpper, r.HasLower, r.HasNumber, r.HasSpecial} {
		if ok {
			score++
		}
	}
	return score
}

// IsStrong reports whether all five rules hold.
func (r PasswordReport) IsStrong() bool { return r.Score() == 5 }

// Err returns nil for a strong password, otherwise a *PolicyError naming
// the failed rules in a stable order.
func (r PasswordReport) Err() error {
	if r.IsStrong() {
		return nil
	}
	var failed []string
	if !r.MinLength {
		failed = append(failed, "at least 8 characters")
	}
	if !r.HasUpper {
		failed = append(failed, "an uppercase letter")
	}
	if !r.HasLower {
		failed = append(failed, "a lowercase letter")
	}
	if !r.HasNumber {
		failed = append(failed, "a number")
	}
	if !r.HasSpecial {
		failed = append(failed, "a special character")
	}
	return &PolicyError{Failed: failed}
}

// CheckPassword evaluates p and returns the policy error, if any.
func CheckPassword(p string) error {
	return EvaluatePassword(p).Err()
}
