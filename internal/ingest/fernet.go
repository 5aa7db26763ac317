package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fernet/fernet-go"
)

// ParseFernetKey decodes a base64 key, padded or not.
func ParseFernetKey(s string) (*fernet.Key, error) {
	s = strings.TrimSpace(s)
	if n := len(s) % 4; n != 0 {
		s += strings.Repeat("=", 4-n)
	}
	k, err := fernet.DecodeKey(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return k, nil
}

// GenerateFernetKey returns a random key in its encoded form.
func GenerateFernetKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", err
	}
	return k.Encode(), nil
}

// decryptToken verifies and decrypts a Fernet token. A zero ttl skips the
// age check.
func decryptToken(token []byte, key *fernet.Key) ([]byte, error) {
	msg := fernet.VerifyAndDecrypt(bytes.TrimSpace(token), 0, []*fernet.Key{key})
	if msg == nil {
		return nil, fmt.Errorf("%w: bad token or wrong key", ErrDecryption)
	}
	return msg, nil
}
