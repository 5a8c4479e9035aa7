package escrow

import (
	"math/big"
	"time"

	"nftescrow/core/events"
)

// Engine wires the escrow transition logic with the record store and an event
// emitter. Each operation is a single-shot invocation: it re-reads every
// record it touches, validates all preconditions, and performs exactly one
// batch commit as its final storage action, so an error never leaves a
// partial mutation behind.
type Engine struct {
	store   *Store
	emitter events.Emitter
	nowFn   func() int64
}

// Result is the outcome of a successful operation: zero or more outbound
// instructions for the host to execute, plus observability tags describing
// the transition.
type Result struct {
	Instructions []Instruction     `json:"instructions,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine(store *Store) *Engine {
	return &Engine{
		store:   store,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Initialize seeds the config singleton. It runs once before any other
// operation; the admin identity must be well-formed.
func (e *Engine) Initialize(admin, denom string) (*Result, error) {
	if err := validateIdentity(admin); err != nil {
		return nil, err
	}
	if denom == "" {
		return nil, ErrInvalidDenom
	}
	cfg := &Config{Admin: admin, Denom: denom}
	if err := e.store.SetConfig(cfg); err != nil {
		return nil, err
	}
	e.emit(NewInitializedEvent(cfg))
	return &Result{Attributes: map[string]string{
		"action": "initialize",
		"admin":  admin,
	}}, nil
}

// Deposit handles the registry's transfer-in notification: it decodes the
// escrow definition from the opaque payload and stores a new record keyed by
// (collection, token_id). An existing record for the same key is overwritten;
// last deposit wins.
func (e *Engine) Deposit(collection, source, tokenID string, payload []byte) (*Result, error) {
	if err := validateIdentity(collection); err != nil {
		return nil, err
	}
	if err := validateIdentity(source); err != nil {
		return nil, err
	}
	msg, err := decodeDepositPayload(payload)
	if err != nil {
		return nil, err
	}
	if err := validateIdentity(msg.Recipient); err != nil {
		return nil, err
	}
	if msg.Price == nil || msg.Price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	esc := &Escrow{
		Source:     source,
		Recipient:  msg.Recipient,
		Price:      new(big.Int).Set(msg.Price),
		Deadline:   msg.Expiration,
		Collection: collection,
		TokenID:    tokenID,
	}
	if IsExpired(esc, e.now()) {
		return nil, ErrAlreadyExpired
	}
	if err := e.store.PutEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewDepositedEvent(esc))
	return &Result{Attributes: map[string]string{
		"action":     "deposit",
		"collection": collection,
		"token_id":   tokenID,
		"source":     source,
	}}, nil
}

// ReceiveDeposit unwraps the registry's transfer-in callback envelope. The
// collection is the notifying registry itself.
func (e *Engine) ReceiveDeposit(collection string, note DepositNotification) (*Result, error) {
	return e.Deposit(collection, note.Source, note.TokenID, note.Payload)
}

// Withdraw returns an expired item to its source. The expiry check runs
// before the authorization check, and the call must carry no payment.
func (e *Engine) Withdraw(collection, tokenID, caller string, payment []Coin) (*Result, error) {
	if err := validateIdentity(collection); err != nil {
		return nil, err
	}
	if len(payment) > 0 {
		return nil, ErrUnexpectedPayment
	}
	esc, found, err := e.store.GetEscrow(collection, tokenID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoEscrow
	}
	if !IsExpired(esc, e.now()) {
		return nil, ErrEscrowNotExpired
	}
	if caller != esc.Source {
		return nil, ErrUnauthorized
	}
	if err := e.store.DeleteEscrow(collection, tokenID); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawnEvent(esc))
	return &Result{
		Instructions: []Instruction{
			AssetTransfer{Collection: collection, Recipient: caller, TokenID: tokenID},
		},
		Attributes: map[string]string{
			"action":     "withdraw",
			"collection": collection,
			"token_id":   tokenID,
			"source":     caller,
		},
	}, nil
}

// Approve settles the escrow: the recipient pays exactly the asked price in
// the configured denomination before expiry. On success the record is deleted
// and the host is instructed to pay the source, then deliver the item to the
// recipient, in that order.
func (e *Engine) Approve(collection, tokenID, caller string, payment []Coin) (*Result, error) {
	if err := validateIdentity(collection); err != nil {
		return nil, err
	}
	esc, found, err := e.store.GetEscrow(collection, tokenID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoEscrow
	}
	cfg, err := e.store.Config()
	if err != nil {
		return nil, err
	}
	if IsExpired(esc, e.now()) {
		return nil, ErrEscrowExpired
	}
	if err := checkPayment(cfg, esc, payment); err != nil {
		return nil, err
	}
	if caller != esc.Recipient {
		return nil, ErrUnauthorized
	}
	if err := e.store.DeleteEscrow(collection, tokenID); err != nil {
		return nil, err
	}
	e.emit(NewApprovedEvent(esc))
	return &Result{
		Instructions: []Instruction{
			FundTransfer{To: esc.Source, Denom: cfg.Denom, Amount: new(big.Int).Set(esc.Price)},
			AssetTransfer{Collection: collection, Recipient: caller, TokenID: tokenID},
		},
		Attributes: map[string]string{
			"action":     "approve",
			"collection": collection,
			"token_id":   tokenID,
			"source":     esc.Source,
			"recipient":  caller,
			"price":      esc.Price.String(),
		},
	}, nil
}

// ChangeConfig replaces the config singleton. Only the current admin may
// invoke it; the new admin and denom take effect for all subsequent
// operations.
func (e *Engine) ChangeConfig(cfg Config, caller string) (*Result, error) {
	current, err := e.store.Config()
	if err != nil {
		return nil, err
	}
	if caller != current.Admin {
		return nil, ErrUnauthorized
	}
	next := cfg.Clone()
	if err := e.store.SetConfig(next); err != nil {
		return nil, err
	}
	e.emit(NewConfigUpdatedEvent(next))
	return &Result{Attributes: map[string]string{
		"action": "change_config",
		"admin":  next.Admin,
	}}, nil
}

// checkPayment validates the attached payment against the configured denom
// and the escrowed price: exactly one coin, matching denomination, exact
// amount.
func checkPayment(cfg *Config, esc *Escrow, payment []Coin) error {
	if len(payment) != 1 {
		return ErrMultipleCoins
	}
	sent := payment[0]
	if sent.Denom != cfg.Denom {
		return ErrUnexpectedDenom
	}
	if sent.Amount == nil || sent.Amount.Cmp(esc.Price) != 0 {
		return ErrInvalidPrice
	}
	return nil
}
