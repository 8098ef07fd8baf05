package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/vestio/vestio/internal/util"
)

const (
	// backupCodeCount is the number of codes generated per batch.
	backupCodeCount = 8
	// backupCodeLength is the number of digits in one code.
	backupCodeLength = 9
)

type hashedBackupCode struct {
	Hash string `json:"hash"`
	Used bool   `json:"used"`
}

// generateBackupCodes creates a batch of single-use backup codes.
// It returns the plaintext codes (shown to the user once) and their
// SHA-256 hashes (kept in the account record).
func generateBackupCodes(count int) ([]string, []hashedBackupCode, error) {
	plaintext := make([]string, count)
	hashed := make([]hashedBackupCode, count)
	for i := range count {
		code, err := util.RandomDigits(backupCodeLength)
		if err != nil {
			return nil, nil, fmt.Errorf("generating backup code: %w", err)
		}
		plaintext[i] = code
		hashed[i] = hashedBackupCode{Hash: hashBackupCode(code)}
	}
	return plaintext, hashed, nil
}

// hashBackupCode normalises spaces and dashes away before hashing.
func hashBackupCode(code string) string {
	normalised := strings.NewReplacer("-", "", " ", "").Replace(strings.TrimSpace(code))
	sum := sha256.Sum256([]byte(normalised))
	return hex.EncodeToString(sum[:])
}

// matchBackupCode returns the index of the unused code equal to input.
func matchBackupCode(codes []hashedBackupCode, input string) (int, bool) {
	candidate := []byte(hashBackupCode(input))
	for i, code := range codes {
		if code.Used {
			continue
		}
		if subtle.ConstantTimeCompare(candidate, []byte(code.Hash)) == 1 {
			return i, true
		}
	}
	return -1, false
}

func countUnusedBackupCodes(codes []hashedBackupCode) int {
	n := 0
	for _, c := range codes {
		if !c.Used {
			n++
		}
	}
	return n
}

// hashOTP digests an emailed one-time code so tickets never hold it in clear.
func hashOTP(code string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(sum[:])
}

func otpMatches(hash, code string) bool {
	return subtle.ConstantTimeCompare([]byte(hash), []byte(hashOTP(code))) == 1
}
