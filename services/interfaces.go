package services

// PasswordHasher hashes and verifies passwords and client secrets.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hashedPassword, password string) error
}
