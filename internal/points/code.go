package points

import "crypto/rand"

// Ambiguous characters (0/O, 1/I/L) are left out: operators retype the code by hand.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 6

// NewConfirmationCode returns the short code an operator must re-enter to
// execute a rollback. It is a manual safety gate, not a secret.
func NewConfirmationCode() string {
	buf := make([]byte, codeLength)
	_, _ = rand.Read(buf)
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf)
}
