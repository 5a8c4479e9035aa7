package escrow

import (
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	"nftescrow/core/events"
	"nftescrow/storage"
)

const testNow = int64(1_700_000_000)

func newTestEngine(t *testing.T) (*Engine, *Store, *events.Collector, *int64) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	store := NewStore(db)
	engine := NewEngine(store)
	now := new(int64)
	*now = testNow
	engine.SetNowFunc(func() int64 { return *now })
	collector := &events.Collector{}
	engine.SetEmitter(collector)
	if _, err := engine.Initialize("admin1", "ujuno"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	collector.Reset()
	return engine, store, collector, now
}

func payloadBytes(t *testing.T, recipient string, price int64, expiration int64) []byte {
	t.Helper()
	raw, err := json.Marshal(DepositPayload{
		Recipient:  recipient,
		Price:      big.NewInt(price),
		Expiration: expiration,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func mustDeposit(t *testing.T, engine *Engine, collection, source, tokenID, recipient string, price, expiration int64) {
	t.Helper()
	if _, err := engine.Deposit(collection, source, tokenID, payloadBytes(t, recipient, price, expiration)); err != nil {
		t.Fatalf("Deposit %s/%s: %v", collection, tokenID, err)
	}
}

func TestInitializeValidation(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	engine := NewEngine(NewStore(db))

	if _, err := engine.Initialize(" admin ", "ujuno"); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
	if _, err := engine.Initialize("admin1", ""); !errors.Is(err, ErrInvalidDenom) {
		t.Fatalf("expected ErrInvalidDenom, got %v", err)
	}
	result, err := engine.Initialize("admin1", "ujuno")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if result.Attributes["action"] != "initialize" || result.Attributes["admin"] != "admin1" {
		t.Fatalf("unexpected attributes: %v", result.Attributes)
	}
}

func TestDepositStoresRecord(t *testing.T) {
	engine, store, collector, _ := newTestEngine(t)

	result, err := engine.Deposit("C1", "S1", "Test.1", payloadBytes(t, "R1", 50, testNow+100))
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if len(result.Instructions) != 0 {
		t.Fatalf("deposit should emit no instructions, got %v", result.Instructions)
	}
	if result.Attributes["token_id"] != "Test.1" || result.Attributes["source"] != "S1" {
		t.Fatalf("unexpected attributes: %v", result.Attributes)
	}

	esc, found, err := store.GetEscrow("C1", "Test.1")
	if err != nil || !found {
		t.Fatalf("GetEscrow: found=%v err=%v", found, err)
	}
	if esc.Source != "S1" || esc.Recipient != "R1" || esc.Collection != "C1" {
		t.Fatalf("unexpected record: %+v", esc)
	}
	if esc.Price.Cmp(big.NewInt(50)) != 0 || esc.Deadline != testNow+100 {
		t.Fatalf("unexpected record: %+v", esc)
	}

	if len(collector.Events) != 1 || collector.Events[0].Type != EventTypeEscrowDeposited {
		t.Fatalf("expected a deposited event, got %+v", collector.Events)
	}
}

func TestReceiveDepositUnwrapsNotification(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)

	note := DepositNotification{
		Source:  "S1",
		TokenID: "Test.1",
		Payload: payloadBytes(t, "R1", 50, testNow+100),
	}
	if _, err := engine.ReceiveDeposit("C1", note); err != nil {
		t.Fatalf("ReceiveDeposit: %v", err)
	}
	esc, found, err := store.GetEscrow("C1", "Test.1")
	if err != nil || !found {
		t.Fatalf("GetEscrow: found=%v err=%v", found, err)
	}
	if esc.Source != "S1" || esc.Recipient != "R1" {
		t.Fatalf("unexpected record: %+v", esc)
	}
}

func TestDepositValidation(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)

	if _, err := engine.Deposit("C1", "S1", "Test.1", payloadBytes(t, "R1", 0, testNow+100)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("zero price: expected ErrInvalidPrice, got %v", err)
	}
	if _, err := engine.Deposit("C1", "S1", "Test.1", []byte(`{"recipient":"R1","expiration":1}`)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("missing price: expected ErrInvalidPrice, got %v", err)
	}
	if _, err := engine.Deposit("C1", "S1", "Test.1", payloadBytes(t, " R1 ", 50, testNow+100)); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("bad recipient: expected ErrInvalidIdentity, got %v", err)
	}
	if _, err := engine.Deposit("C1", "S1", "Test.1", []byte("{not json")); err == nil {
		t.Fatalf("expected payload decode error")
	}

	if _, found, _ := store.GetEscrow("C1", "Test.1"); found {
		t.Fatalf("failed deposits must store nothing")
	}
}

func TestDepositExpiryBoundary(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	// Expiry at exactly the current time counts as expired.
	if _, err := engine.Deposit("C1", "S1", "Test.1", payloadBytes(t, "R1", 50, testNow)); !errors.Is(err, ErrAlreadyExpired) {
		t.Fatalf("expected ErrAlreadyExpired, got %v", err)
	}
	if _, err := engine.Deposit("C1", "S1", "Test.1", payloadBytes(t, "R1", 50, testNow+1)); err != nil {
		t.Fatalf("one second ahead should succeed: %v", err)
	}
}

func TestDepositOverwritesExisting(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)

	mustDeposit(t, engine, "C1", "S1", "Test.1", "R1", 50, testNow+100)
	// A second deposit for the same (collection, token_id) clobbers the
	// first; last deposit wins.
	mustDeposit(t, engine, "C1", "S2", "Test.1", "R2", 75, testNow+200)

	esc, found, err := store.GetEscrow("C1", "Test.1")
	if err != nil || !found {
		t.Fatalf("GetEscrow: found=%v err=%v", found, err)
	}
	if esc.Source != "S2" || esc.Recipient != "R2" || esc.Price.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("overwrite did not win: %+v", esc)
	}

	orphaned, err := store.ListBySource("S1", nil, 0)
	if err != nil {
		t.Fatalf("ListBySource: %v", err)
	}
	if len(orphaned) != 0 {
		t.Fatalf("clobbered record still indexed: %+v", orphaned)
	}
}

func TestOversizedIdentifiersCannotAliasKeys(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)

	// escrowKey("ab"+long, "tok1") and escrowKey("ab", long+"tok1") would
	// collide if the two-byte length prefix wrapped at 65536.
	long := strings.Repeat("x", 1<<16)
	if _, err := engine.Deposit("ab"+long, "S1", "tok1", payloadBytes(t, "R1", 50, testNow+100)); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("oversized collection: expected ErrInvalidIdentity, got %v", err)
	}
	if _, err := engine.Deposit("C1", "S1"+long, "tok1", payloadBytes(t, "R1", 50, testNow+100)); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("oversized source: expected ErrInvalidIdentity, got %v", err)
	}

	// Long token ids are legal: the token id is the raw key tail, not a
	// length-prefixed segment.
	mustDeposit(t, engine, "ab", "S2", long+"tok1", "R1", 50, testNow+100)

	if _, found, err := store.GetEscrow("ab"+long, "tok1"); err != nil || found {
		t.Fatalf("oversized collection lookup must miss, not alias: found=%v err=%v", found, err)
	}
	if _, err := engine.Withdraw("ab"+long, "tok1", "S2", nil); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("oversized collection withdraw: expected ErrInvalidIdentity, got %v", err)
	}
	esc, found, err := store.GetEscrow("ab", long+"tok1")
	if err != nil || !found {
		t.Fatalf("GetEscrow: found=%v err=%v", found, err)
	}
	if esc.Source != "S2" || esc.Collection != "ab" {
		t.Fatalf("unexpected record: source=%s collection=%s", esc.Source, esc.Collection)
	}
}

func TestWithdrawBeforeExpiry(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	mustDeposit(t, engine, "C1", "S1", "Test.1", "R1", 50, testNow+100)

	if _, err := engine.Withdraw("C1", "Test.1", "S1", nil); !errors.Is(err, ErrEscrowNotExpired) {
		t.Fatalf("expected ErrEscrowNotExpired, got %v", err)
	}
	// The expiry check runs before the authorization check.
	if _, err := engine.Withdraw("C1", "Test.1", "intruder", nil); !errors.Is(err, ErrEscrowNotExpired) {
		t.Fatalf("expected ErrEscrowNotExpired for non-source too, got %v", err)
	}
	if _, found, _ := store.GetEscrow("C1", "Test.1"); !found {
		t.Fatalf("record must remain after failed withdraw")
	}
}

func TestWithdrawAfterExpiry(t *testing.T) {
	engine, store, collector, now := newTestEngine(t)
	mustDeposit(t, engine, "C1", "S1", "Test.1", "R1", 50, testNow+100)
	collector.Reset()
	*now = testNow + 100

	if _, err := engine.Withdraw("C1", "Test.1", "intruder", nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := engine.Withdraw("C1", "Test.1", "S1", []Coin{{Denom: "ujuno", Amount: big.NewInt(1)}}); !errors.Is(err, ErrUnexpectedPayment) {
		t.Fatalf("expected ErrUnexpectedPayment, got %v", err)
	}

	result, err := engine.Withdraw("C1", "Test.1", "S1", nil)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if len(result.Instructions) != 1 {
		t.Fatalf("expected exactly one instruction, got %d", len(result.Instructions))
	}
	transfer, ok := result.Instructions[0].(AssetTransfer)
	if !ok {
		t.Fatalf("expected AssetTransfer, got %T", result.Instructions[0])
	}
	if transfer.Recipient != "S1" || transfer.TokenID != "Test.1" || transfer.Collection != "C1" {
		t.Fatalf("unexpected transfer: %+v", transfer)
	}

	if _, found, _ := store.GetEscrow("C1", "Test.1"); found {
		t.Fatalf("record must be deleted after withdraw")
	}
	if len(collector.Events) != 1 || collector.Events[0].Type != EventTypeEscrowWithdrawn {
		t.Fatalf("expected a withdrawn event, got %+v", collector.Events)
	}
}

func TestWithdrawNoEscrow(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	if _, err := engine.Withdraw("C1", "nope", "S1", nil); !errors.Is(err, ErrNoEscrow) {
		t.Fatalf("expected ErrNoEscrow, got %v", err)
	}
}

func TestApproveSettlesEscrow(t *testing.T) {
	engine, store, collector, _ := newTestEngine(t)
	mustDeposit(t, engine, "C1", "S1", "Test.1", "R1", 50, testNow+100)
	collector.Reset()

	result, err := engine.Approve("C1", "Test.1", "R1", []Coin{{Denom: "ujuno", Amount: big.NewInt(50)}})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if len(result.Instructions) != 2 {
		t.Fatalf("expected two instructions, got %d", len(result.Instructions))
	}
	payout, ok := result.Instructions[0].(FundTransfer)
	if !ok {
		t.Fatalf("first instruction must be the fund transfer, got %T", result.Instructions[0])
	}
	if payout.To != "S1" || payout.Denom != "ujuno" || payout.Amount.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected payout: %+v", payout)
	}
	delivery, ok := result.Instructions[1].(AssetTransfer)
	if !ok {
		t.Fatalf("second instruction must be the asset transfer, got %T", result.Instructions[1])
	}
	if delivery.Recipient != "R1" || delivery.TokenID != "Test.1" {
		t.Fatalf("unexpected delivery: %+v", delivery)
	}

	if _, found, _ := store.GetEscrow("C1", "Test.1"); found {
		t.Fatalf("record must be deleted after approval")
	}
	if len(collector.Events) != 1 || collector.Events[0].Type != EventTypeEscrowApproved {
		t.Fatalf("expected an approved event, got %+v", collector.Events)
	}
}

func TestApprovePaymentValidation(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	mustDeposit(t, engine, "C1", "S1", "Test.1", "R1", 50, testNow+100)

	cases := []struct {
		name    string
		payment []Coin
		want    error
	}{
		{"no coins", nil, ErrMultipleCoins},
		{"two coins", []Coin{
			{Denom: "ujuno", Amount: big.NewInt(25)},
			{Denom: "ujuno", Amount: big.NewInt(25)},
		}, ErrMultipleCoins},
		{"wrong denom", []Coin{{Denom: "uatom", Amount: big.NewInt(50)}}, ErrUnexpectedDenom},
		{"underpaid", []Coin{{Denom: "ujuno", Amount: big.NewInt(49)}}, ErrInvalidPrice},
		{"overpaid", []Coin{{Denom: "ujuno", Amount: big.NewInt(51)}}, ErrInvalidPrice},
		{"nil amount", []Coin{{Denom: "ujuno"}}, ErrInvalidPrice},
	}
	for _, tc := range cases {
		if _, err := engine.Approve("C1", "Test.1", "R1", tc.payment); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if _, found, _ := store.GetEscrow("C1", "Test.1"); !found {
			t.Fatalf("%s: record must survive a failed approval", tc.name)
		}
	}
}

func TestApproveAuthorizationAndExpiry(t *testing.T) {
	engine, _, _, now := newTestEngine(t)
	mustDeposit(t, engine, "C1", "S1", "Test.1", "R1", 50, testNow+100)

	payment := []Coin{{Denom: "ujuno", Amount: big.NewInt(50)}}
	if _, err := engine.Approve("C1", "Test.1", "S1", payment); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := engine.Approve("C1", "nope", "R1", payment); !errors.Is(err, ErrNoEscrow) {
		t.Fatalf("expected ErrNoEscrow, got %v", err)
	}

	*now = testNow + 100
	if _, err := engine.Approve("C1", "Test.1", "R1", payment); !errors.Is(err, ErrEscrowExpired) {
		t.Fatalf("expected ErrEscrowExpired, got %v", err)
	}
}

func TestSettlementIsExactlyOnce(t *testing.T) {
	engine, _, _, now := newTestEngine(t)
	payment := []Coin{{Denom: "ujuno", Amount: big.NewInt(50)}}

	// Approval first: the later withdrawal finds nothing.
	mustDeposit(t, engine, "C1", "S1", "Test.1", "R1", 50, testNow+100)
	if _, err := engine.Approve("C1", "Test.1", "R1", payment); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	*now = testNow + 100
	if _, err := engine.Withdraw("C1", "Test.1", "S1", nil); !errors.Is(err, ErrNoEscrow) {
		t.Fatalf("expected ErrNoEscrow after approval, got %v", err)
	}

	// Withdrawal first: the later approval finds nothing.
	*now = testNow
	mustDeposit(t, engine, "C1", "S1", "Test.2", "R1", 50, testNow+100)
	*now = testNow + 100
	if _, err := engine.Withdraw("C1", "Test.2", "S1", nil); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if _, err := engine.Approve("C1", "Test.2", "R1", payment); !errors.Is(err, ErrNoEscrow) {
		t.Fatalf("expected ErrNoEscrow after withdrawal, got %v", err)
	}
}

func TestChangeConfig(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)

	if _, err := engine.ChangeConfig(Config{Admin: "admin2", Denom: "uatom"}, "intruder"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	cfg, err := store.Config()
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.Admin != "admin1" || cfg.Denom != "ujuno" {
		t.Fatalf("config must be unchanged after failed change: %+v", cfg)
	}

	if _, err := engine.ChangeConfig(Config{Admin: "admin2", Denom: "uatom"}, "admin1"); err != nil {
		t.Fatalf("ChangeConfig: %v", err)
	}
	cfg, err = store.Config()
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.Admin != "admin2" || cfg.Denom != "uatom" {
		t.Fatalf("config not replaced: %+v", cfg)
	}

	// The old admin lost its authority, the new denom governs approvals.
	if _, err := engine.ChangeConfig(Config{Admin: "admin1", Denom: "ujuno"}, "admin1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for old admin, got %v", err)
	}
	mustDeposit(t, engine, "C1", "S1", "Test.1", "R1", 50, testNow+100)
	if _, err := engine.Approve("C1", "Test.1", "R1", []Coin{{Denom: "ujuno", Amount: big.NewInt(50)}}); !errors.Is(err, ErrUnexpectedDenom) {
		t.Fatalf("expected ErrUnexpectedDenom under new config, got %v", err)
	}
	if _, err := engine.Approve("C1", "Test.1", "R1", []Coin{{Denom: "uatom", Amount: big.NewInt(50)}}); err != nil {
		t.Fatalf("Approve under new config: %v", err)
	}
}

func TestOperationsRequireInitializedConfig(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	engine := NewEngine(NewStore(db))
	engine.SetNowFunc(func() int64 { return testNow })

	// Deposit and Withdraw never touch the config; Approve and
	// ChangeConfig need it.
	mustDeposit(t, engine, "C1", "S1", "Test.1", "R1", 50, testNow+100)
	if _, err := engine.Approve("C1", "Test.1", "R1", []Coin{{Denom: "ujuno", Amount: big.NewInt(50)}}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := engine.ChangeConfig(Config{Admin: "a", Denom: "d"}, "a"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}
