package flow

import (
	"strings"
	"unicode/utf8"
)

// OTPLength is the number of digits in an email or authenticator code.
const OTPLength = 6

// BackupCodeLength is the number of characters in a backup code.
const BackupCodeLength = 9

// CodeInput models a row of single-digit cells with a focus cursor: typing a
// digit advances focus, backspace on an empty cell moves back, and a paste
// fills every cell at once.
type CodeInput struct {
	cells []string
	focus int
}

// NewCodeInput creates n empty cells with focus on the first.
func NewCodeInput(n int) *CodeInput {
	return &CodeInput{cells: make([]string, n)}
}

// Type sets cell index to the last character of value. Non-digit input is
// rejected and leaves the cells unchanged. A non-empty value moves focus to
// the next cell.
func (c *CodeInput) Type(index int, value string) bool {
	if index < 0 || index >= len(c.cells) || !isDigits(value) {
		return false
	}
	if value == "" {
		c.cells[index] = ""
	} else {
		c.cells[index] = value[len(value)-1:]
	}
	c.focus = index
	if value != "" && index < len(c.cells)-1 {
		c.focus = index + 1
	}
	return true
}

// Backspace clears cell index, or moves focus to the previous cell when it
// is already empty.
func (c *CodeInput) Backspace(index int) {
	if index < 0 || index >= len(c.cells) {
		return
	}
	if c.cells[index] != "" {
		c.cells[index] = ""
		c.focus = index
		return
	}
	if index > 0 {
		c.focus = index - 1
	}
}

// Paste strips non-digits from text and spreads the result over the cells,
// truncating extra digits and blanking cells that receive none.
func (c *CodeInput) Paste(text string) {
	digits := stripNonDigits(text)
	for i := range c.cells {
		if i < len(digits) {
			c.cells[i] = digits[i : i+1]
		} else {
			c.cells[i] = ""
		}
	}
	c.focus = min(len(digits), len(c.cells)-1)
}

// Value joins the cells.
func (c *CodeInput) Value() string {
	return strings.Join(c.cells, "")
}

// Complete reports whether every cell holds a digit.
func (c *CodeInput) Complete() bool {
	return len(c.Value()) == len(c.cells)
}

// Cells returns a copy of the cell contents.
func (c *CodeInput) Cells() []string {
	out := make([]string, len(c.cells))
	copy(out, c.cells)
	return out
}

// Focus returns the index of the focused cell.
func (c *CodeInput) Focus() int { return c.focus }

// Reset empties all cells.
func (c *CodeInput) Reset() {
	for i := range c.cells {
		c.cells[i] = ""
	}
	c.focus = 0
}

// ValidateOTP checks that code is exactly six ASCII digits.
func ValidateOTP(code string) error {
	if len(code) != OTPLength || !isDigits(code) {
		return ErrInvalidCodeFormat
	}
	return nil
}

// SecondFactorMode selects which kind of code the second-factor stage accepts.
type SecondFactorMode int

const (
	ModeAuthenticator SecondFactorMode = iota
	ModeBackupCode
)

func (m SecondFactorMode) String() string {
	if m == ModeBackupCode {
		return "backup_code"
	}
	return "authenticator"
}

// CodeLength is the exact code length the mode accepts.
func (m SecondFactorMode) CodeLength() int {
	if m == ModeBackupCode {
		return BackupCodeLength
	}
	return OTPLength
}

// Sanitize filters raw input for the mode: authenticator codes keep digits
// only, backup codes keep any character. Both are truncated to CodeLength.
func (m SecondFactorMode) Sanitize(raw string) string {
	if m == ModeAuthenticator {
		raw = stripNonDigits(raw)
	}
	if utf8.RuneCountInString(raw) > m.CodeLength() {
		raw = string([]rune(raw)[:m.CodeLength()])
	}
	return raw
}

// Validate checks code against the mode's shape.
func (m SecondFactorMode) Validate(code string) error {
	if m == ModeAuthenticator {
		return ValidateOTP(code)
	}
	if utf8.RuneCountInString(code) != BackupCodeLength {
		return ErrInvalidCodeFormat
	}
	return nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
