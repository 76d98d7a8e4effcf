package offline

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Signer computes the integrity tag of a queued transaction.
type Signer interface {
	Sign(transaction OfflineTransaction) string
}

// JoinSigner joins the signed fields with "|". It is an ordering and
// dedup tag only: anyone who knows the fields can rebuild it.
type JoinSigner struct{}

// Sign returns id|type|amount|clientTimestamp|receiverId.
func (JoinSigner) Sign(transaction OfflineTransaction) string {
	return signaturePayload(transaction)
}

// MACSigner computes a keyed BLAKE2b-256 MAC over the signed fields using a
// device-held secret.
type MACSigner struct {
	key []byte
}

// NewMACSigner validates the device secret (1 to 64 bytes).
func NewMACSigner(key []byte) (*MACSigner, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, fmt.Errorf("%w: key must be 1-%d bytes", ErrInvalidSignerKey, blake2b.Size)
	}
	copied := make([]byte, len(key))
	copy(copied, key)
	return &MACSigner{key: copied}, nil
}

// Sign returns the hex-encoded MAC.
func (signer *MACSigner) Sign(transaction OfflineTransaction) string {
	hash, err := blake2b.New256(signer.key)
	if err != nil {
		panic(err)
	}
	_, _ = hash.Write([]byte(signaturePayload(transaction)))
	return hex.EncodeToString(hash.Sum(nil))
}

// VerifySignature reports whether the stored tag matches the record fields.
func VerifySignature(signer Signer, transaction OfflineTransaction) bool {
	expected := signer.Sign(transaction)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(transaction.Signature)) == 1
}

func signaturePayload(transaction OfflineTransaction) string {
	return strings.Join([]string{
		transaction.ClientTransactionID.String(),
		transaction.Type.String(),
		transaction.Amount.String(),
		strconv.FormatInt(transaction.ClientTimestamp, 10),
		transaction.ReceiverID,
	}, signatureDelimiter)
}

// SignerForKey returns a MACSigner when key is set and a JoinSigner
// otherwise. The device and the server must be configured with the same key.
func SignerForKey(key string) (Signer, error) {
	if key == "" {
		return JoinSigner{}, nil
	}
	signer, err := NewMACSigner([]byte(key))
	if err != nil {
		return nil, err
	}
	return signer, nil
}
