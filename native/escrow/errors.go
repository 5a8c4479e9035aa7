package escrow

import "errors"

var (
	// ErrUnauthorized marks callers that are not entitled to the requested
	// transition.
	ErrUnauthorized = errors.New("escrow: unauthorized")
	// ErrInvalidPrice covers a zero price at deposit and a payment amount
	// that does not match the escrowed price at approval.
	ErrInvalidPrice = errors.New("escrow: price must match and be greater than zero")
	// ErrAlreadyExpired rejects deposits whose expiry already lies in the
	// past.
	ErrAlreadyExpired   = errors.New("escrow: deposit already expired")
	ErrEscrowExpired    = errors.New("escrow: escrow is expired")
	ErrEscrowNotExpired = errors.New("escrow: escrow is not expired")
	ErrNoEscrow         = errors.New("escrow: there is no such escrow")
	// ErrUnexpectedDenom marks payments in a denomination other than the
	// configured one.
	ErrUnexpectedDenom = errors.New("escrow: unexpected payment denomination")
	// ErrInvalidDenom rejects a malformed settlement denomination at
	// initialisation.
	ErrInvalidDenom  = errors.New("escrow: invalid denomination")
	ErrMultipleCoins = errors.New("escrow: exactly one coin must be sent")
	// ErrUnexpectedPayment marks funds attached to a non-payable call.
	ErrUnexpectedPayment = errors.New("escrow: this operation does not accept payment")
	// ErrStorageFault wraps any failure of the underlying persistence
	// layer. Match with errors.Is.
	ErrStorageFault = errors.New("escrow: storage fault")
	// ErrInvalidIdentity marks malformed address-like fields.
	ErrInvalidIdentity = errors.New("escrow: invalid identity")
	// ErrNotInitialized is returned when the config singleton has not been
	// written yet.
	ErrNotInitialized = errors.New("escrow: config not initialised")
)
