package auth

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost     = 14
	MinPasswordLen = 12
	MaxPasswordLen = 72 // bcrypt ignores bytes past 72
)

// PasswordPolicyError lists every rule a staff password broke.
// It is only reported to operators configuring accounts, never to login callers.
type PasswordPolicyError struct {
	Violations []string
}

func (e *PasswordPolicyError) Error() string {
	return "password rejected: " + strings.Join(e.Violations, "; ")
}

var weakPasswords = map[string]struct{}{
	"password1234":  {},
	"changeme1234":  {},
	"administrator": {},
	"qwertyuiop12":  {},
	"letmein12345":  {},
	"welcome12345":  {},
}

type characterClass struct {
	name  string
	match func(rune) bool
}

var requiredClasses = []characterClass{
	{"an uppercase letter", unicode.IsUpper},
	{"a lowercase letter", unicode.IsLower},
	{"a digit", unicode.IsDigit},
	{"a symbol", func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) }},
}

func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, BcryptCost)
}

// HashPasswordWithCost hashes with an explicit bcrypt cost; tests use bcrypt.MinCost
func HashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// CompareDummy burns one bcrypt comparison so unknown usernames take as long as wrong passwords
func CompareDummy(password string, cost int) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("warden-dummy-password"), cost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// ValidatePassword checks a staff password against the account policy
func ValidatePassword(password, username string) error {
	var violations []string

	if len(password) < MinPasswordLen {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		violations = append(violations, fmt.Sprintf("must be at most %d bytes", MaxPasswordLen))
	}

	for _, class := range requiredClasses {
		if strings.IndexFunc(password, class.match) < 0 {
			violations = append(violations, "must contain "+class.name)
		}
	}

	lower := strings.ToLower(password)
	if _, weak := weakPasswords[lower]; weak {
		violations = append(violations, "is a well-known password")
	}
	if username != "" && strings.Contains(lower, strings.ToLower(username)) {
		violations = append(violations, "must not contain the username")
	}

	if len(violations) > 0 {
		return &PasswordPolicyError{Violations: violations}
	}
	return nil
}
