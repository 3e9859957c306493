package auth

import "golang.org/x/crypto/bcrypt"

// hashCost is the bcrypt work factor applied to every stored credential.
// Raising it slows every login's verify step by the same factor.
const hashCost = bcrypt.DefaultCost

// HashPassword derives the stored bcrypt hash for a plaintext password.
func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), hashCost)
	return string(b), err
}

// CheckPassword reports whether the candidate plaintext matches the stored
// hash. A nil return means it matches.
func CheckPassword(hash, pw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
}
