package syncserver

import "errors"

var (
	ErrUnknownAccount      = errors.New("unknown account")
	ErrDuplicateTransfer   = errors.New("duplicate transfer")
	ErrInvalidToken        = errors.New("invalid token")
	ErrInvalidLedgerConfig = errors.New("invalid ledger config")
)
