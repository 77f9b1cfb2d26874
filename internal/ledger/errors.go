package ledger

import "errors"

var (
	// ErrMetadataError is returned when the metadata head pointer is
	// corrupt or missing when it should exist.
	ErrMetadataError = errors.New("ledger: corrupt or missing metadata head")
	// ErrInconsecutive is returned when a block does not extend the known
	// head (wrong index or wrong previous hash).
	ErrInconsecutive = errors.New("ledger: block does not extend head")
	// ErrSignatureError is returned when a block's proof-of-work does not
	// verify.
	ErrSignatureError = errors.New("ledger: invalid block signature")
	// ErrPayloadSignatureError is returned when a transaction's signature
	// does not verify.
	ErrPayloadSignatureError = errors.New("ledger: invalid transaction signature")
)
