package ledger

import (
	"bytes"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/lotmatch/costs"
	"github.com/coachpo/lotmatch/errs"
)

var testBase = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func ts(minute int) time.Time {
	return testBase.Add(time.Duration(minute) * time.Minute)
}

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func testFill(side Side, minute int, price, amount string) Fill {
	return Fill{
		Time:   ts(minute),
		Price:  d(price),
		Amount: d(amount),
		Fee:    decimal.Zero,
		Side:   side,
	}
}

func newTestBook(t *testing.T, policy MatchPolicy) *PositionBook {
	t.Helper()
	book, err := NewPositionBook(SideBuy, policy, costs.RecordedFee{}, costs.ZeroHolding())
	if err != nil {
		t.Fatalf("NewPositionBook() error = %v", err)
	}
	return book
}

func mustEntry(t *testing.T, book *PositionBook, index int, fill Fill) {
	t.Helper()
	if err := book.RecordEntry(index, fill, book.NextSequence()); err != nil {
		t.Fatalf("RecordEntry(%d) error = %v", index, err)
	}
}

func mustExit(t *testing.T, book *PositionBook, index int, fill Fill) []ClosedPosition {
	t.Helper()
	closed, err := book.RecordExit(index, fill, book.NextSequence())
	if err != nil {
		t.Fatalf("RecordExit(%d) error = %v", index, err)
	}
	return closed
}

func assertDec(t *testing.T, want string, got decimal.Decimal, what string) {
	t.Helper()
	if !got.Equal(d(want)) {
		t.Fatalf("expected %s %s, got %s", what, want, got)
	}
}

func TestPositionBookConstructionValidation(t *testing.T) {
	if _, err := NewPositionBook("", MatchFIFO, costs.ZeroCost{}, costs.ZeroHolding()); !errs.HasCode(err, errs.CodeConstruction) {
		t.Fatalf("expected construction error for missing side, got %v", err)
	}
	if _, err := NewPositionBook(SideBuy, "BEST_PRICE", costs.ZeroCost{}, costs.ZeroHolding()); !errs.HasCode(err, errs.CodeConstruction) {
		t.Fatalf("expected construction error for unknown policy, got %v", err)
	}
	if _, err := NewPositionBook(SideBuy, MatchFIFO, nil, costs.ZeroHolding()); !errs.HasCode(err, errs.CodeConstruction) {
		t.Fatalf("expected construction error for nil transaction model, got %v", err)
	}
	if _, err := NewPositionBook(SideBuy, MatchFIFO, costs.ZeroCost{}, nil); !errs.HasCode(err, errs.CodeConstruction) {
		t.Fatalf("expected construction error for nil holding model, got %v", err)
	}
}

func TestPositionBookRejectsInvalidFills(t *testing.T) {
	book := newTestBook(t, MatchFIFO)

	cases := []struct {
		name string
		fill Fill
	}{
		{"zero amount", testFill(SideBuy, 0, "100", "0")},
		{"negative amount", testFill(SideBuy, 0, "100", "-1")},
		{"zero price", testFill(SideBuy, 0, "0", "1")},
		{"negative fee", Fill{Time: ts(0), Price: d("100"), Amount: d("1"), Fee: d("-0.5"), Side: SideBuy}},
		{"missing side", Fill{Time: ts(0), Price: d("100"), Amount: d("1")}},
	}
	for _, tc := range cases {
		if err := book.RecordEntry(0, tc.fill, book.NextSequence()); !errs.HasCode(err, errs.CodeInvalidFill) {
			t.Errorf("%s: expected invalid_fill, got %v", tc.name, err)
		}
	}
	if lots := book.OpenLots(); len(lots) != 0 {
		t.Fatalf("expected rejected fills to leave no lots, got %d", len(lots))
	}
}

func TestFifoMatchesOldestLotFirst(t *testing.T) {
	book := newTestBook(t, MatchFIFO)
	mustEntry(t, book, 0, testFill(SideBuy, 0, "100", "2"))
	mustEntry(t, book, 1, testFill(SideBuy, 1, "110", "1"))

	closed := mustExit(t, book, 2, testFill(SideSell, 2, "120", "2"))

	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	assertDec(t, "100", closed[0].Entry.Price, "entry price")
	assertDec(t, "2", closed[0].Entry.Amount, "entry amount")
	if closed[0].EntrySequence != 0 || closed[0].ExitSequence != 2 {
		t.Fatalf("expected sequences (0,2), got (%d,%d)", closed[0].EntrySequence, closed[0].ExitSequence)
	}

	net, ok := book.NetOpenPosition()
	if !ok {
		t.Fatal("expected an open position to remain")
	}
	assertDec(t, "1", net.Amount, "net amount")
	assertDec(t, "110", net.AverageEntryPrice, "net average price")
}

func TestLifoMatchesNewestLotFirst(t *testing.T) {
	book := newTestBook(t, MatchLIFO)
	mustEntry(t, book, 0, testFill(SideBuy, 0, "100", "2"))
	mustEntry(t, book, 1, testFill(SideBuy, 1, "110", "1"))

	closed := mustExit(t, book, 2, testFill(SideSell, 2, "120", "1"))

	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	assertDec(t, "110", closed[0].Entry.Price, "entry price")
	assertDec(t, "1", closed[0].Entry.Amount, "entry amount")

	lots := book.OpenLots()
	if len(lots) != 1 {
		t.Fatalf("expected 1 open lot, got %d", len(lots))
	}
	assertDec(t, "2", lots[0].Amount, "remaining amount")
	assertDec(t, "100", lots[0].EntryPrice, "remaining price")
}

func TestAverageCostCollapsesToSingleLot(t *testing.T) {
	book := newTestBook(t, MatchAverageCost)
	mustEntry(t, book, 0, testFill(SideBuy, 0, "100", "2"))
	mustEntry(t, book, 1, testFill(SideBuy, 1, "110", "2"))

	lots := book.OpenLots()
	if len(lots) != 1 {
		t.Fatalf("expected a single collapsed lot, got %d", len(lots))
	}
	assertDec(t, "105", lots[0].EntryPrice, "merged price")
	if lots[0].EntrySequence != 0 {
		t.Fatalf("expected merged lot to keep the first entry sequence, got %d", lots[0].EntrySequence)
	}

	closed := mustExit(t, book, 2, testFill(SideSell, 2, "120", "1"))
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	assertDec(t, "105", closed[0].Entry.Price, "closed entry price")
	assertDec(t, "1", closed[0].Entry.Amount, "closed amount")

	net, ok := book.NetOpenPosition()
	if !ok {
		t.Fatal("expected an open position to remain")
	}
	assertDec(t, "3", net.Amount, "net amount")
	assertDec(t, "105", net.AverageEntryPrice, "net average price")
}

func TestAverageCostExitDoesNotMovePrice(t *testing.T) {
	book := newTestBook(t, MatchAverageCost)
	mustEntry(t, book, 0, testFill(SideBuy, 0, "100", "2"))
	mustEntry(t, book, 1, testFill(SideBuy, 1, "110", "2"))
	mustExit(t, book, 2, testFill(SideSell, 2, "150", "3"))

	lots := book.OpenLots()
	if len(lots) != 1 {
		t.Fatalf("expected 1 open lot, got %d", len(lots))
	}
	assertDec(t, "105", lots[0].EntryPrice, "price after exit")
}

func TestSpecificLotMatchesByCorrelationThenOrder(t *testing.T) {
	book := newTestBook(t, MatchSpecificLot)
	first := testFill(SideBuy, 0, "100", "1")
	first.OrderID, first.CorrelationID = "order-1", "corr-1"
	second := testFill(SideBuy, 1, "110", "1")
	second.OrderID, second.CorrelationID = "order-2", "corr-2"
	mustEntry(t, book, 0, first)
	mustEntry(t, book, 1, second)

	exit := testFill(SideSell, 2, "120", "1")
	exit.CorrelationID = "corr-2"
	closed := mustExit(t, book, 2, exit)

	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	assertDec(t, "110", closed[0].Entry.Price, "matched entry price")

	byOrder := testFill(SideSell, 3, "120", "1")
	byOrder.OrderID = "order-1"
	closed = mustExit(t, book, 3, byOrder)
	assertDec(t, "100", closed[0].Entry.Price, "order-id matched entry price")
}

func TestSpecificLotValidationFailuresAreAtomic(t *testing.T) {
	book := newTestBook(t, MatchSpecificLot)
	entry := testFill(SideBuy, 0, "100", "1")
	entry.CorrelationID = "corr-1"
	mustEntry(t, book, 0, entry)

	noID := testFill(SideSell, 1, "120", "1")
	if _, err := book.RecordExit(1, noID, book.NextSequence()); !errs.HasCode(err, errs.CodeLotMismatch) {
		t.Fatalf("expected lot_mismatch for missing identifier, got %v", err)
	}

	wrongID := testFill(SideSell, 1, "120", "1")
	wrongID.CorrelationID = "corr-9"
	if _, err := book.RecordExit(1, wrongID, book.NextSequence()); !errs.HasCode(err, errs.CodeLotMismatch) {
		t.Fatalf("expected lot_mismatch for unmatched identifier, got %v", err)
	}

	tooBig := testFill(SideSell, 1, "120", "2")
	tooBig.CorrelationID = "corr-1"
	if _, err := book.RecordExit(1, tooBig, book.NextSequence()); !errs.HasCode(err, errs.CodeLotMismatch) {
		t.Fatalf("expected lot_mismatch for oversized exit, got %v", err)
	}

	lots := book.OpenLots()
	if len(lots) != 1 || !lots[0].Amount.Equal(d("1")) {
		t.Fatalf("expected the open lot to be untouched, got %+v", lots)
	}
	if len(book.ClosedPositions()) != 0 {
		t.Fatal("expected no closed positions after rejected exits")
	}
}

func TestPartialExitPreservesLotIdentity(t *testing.T) {
	book := newTestBook(t, MatchFIFO)
	entry := testFill(SideBuy, 0, "100", "3")
	entry.OrderID, entry.CorrelationID = "order-1", "corr-1"
	mustEntry(t, book, 0, entry)

	closed := mustExit(t, book, 1, testFill(SideSell, 1, "120", "1"))
	assertDec(t, "1", closed[0].Entry.Amount, "closed amount")
	assertDec(t, "100", closed[0].Entry.Price, "closed entry price")

	lots := book.OpenLots()
	if len(lots) != 1 {
		t.Fatalf("expected 1 open lot, got %d", len(lots))
	}
	remainder := lots[0]
	assertDec(t, "2", remainder.Amount, "remaining amount")
	assertDec(t, "100", remainder.EntryPrice, "remaining price")
	if remainder.EntrySequence != 0 {
		t.Fatalf("expected remainder to keep sequence 0, got %d", remainder.EntrySequence)
	}
	if !remainder.EntryTime.Equal(ts(0)) {
		t.Fatalf("expected remainder to keep entry time %v, got %v", ts(0), remainder.EntryTime)
	}
	if remainder.OrderID != "order-1" || remainder.CorrelationID != "corr-1" {
		t.Fatalf("expected remainder to keep identifiers, got %+v", remainder)
	}
}

func TestExitWithoutOpenLotsLeavesBookUnchanged(t *testing.T) {
	book := newTestBook(t, MatchFIFO)

	if _, err := book.RecordExit(0, testFill(SideSell, 0, "120", "1"), book.NextSequence()); !errs.HasCode(err, errs.CodeNoOpenPosition) {
		t.Fatalf("expected no_open_position, got %v", err)
	}
	if len(book.OpenLots()) != 0 {
		t.Fatal("expected zero open lots after rejected exit")
	}
	if len(book.ClosedPositions()) != 0 {
		t.Fatal("expected zero closed positions after rejected exit")
	}
}

func TestInsufficientOpenAmountRejectsExitAtomically(t *testing.T) {
	book := newTestBook(t, MatchFIFO)
	mustEntry(t, book, 0, testFill(SideBuy, 0, "100", "1"))
	mustEntry(t, book, 1, testFill(SideBuy, 1, "110", "1"))

	if _, err := book.RecordExit(2, testFill(SideSell, 2, "120", "5"), book.NextSequence()); !errs.HasCode(err, errs.CodeNoOpenPosition) {
		t.Fatalf("expected no_open_position for oversized exit, got %v", err)
	}
	lots := book.OpenLots()
	if len(lots) != 2 {
		t.Fatalf("expected both lots untouched, got %d", len(lots))
	}
	assertDec(t, "1", lots[0].Amount, "first lot amount")
	assertDec(t, "1", lots[1].Amount, "second lot amount")
}

func TestSequenceNumbersAreNeverReused(t *testing.T) {
	book := newTestBook(t, MatchFIFO)
	mustEntry(t, book, 0, testFill(SideBuy, 0, "100", "1"))

	if err := book.RecordEntry(1, testFill(SideBuy, 1, "110", "1"), 0); !errs.HasCode(err, errs.CodeConflict) {
		t.Fatalf("expected conflict for reused sequence, got %v", err)
	}
}

func TestConservationAcrossEntriesAndExits(t *testing.T) {
	for _, policy := range []MatchPolicy{MatchFIFO, MatchLIFO, MatchAverageCost} {
		book := newTestBook(t, policy)
		entered := decimal.Zero
		amounts := []string{"2", "1.5", "3", "0.25"}
		for i, amount := range amounts {
			mustEntry(t, book, i, testFill(SideBuy, i, "100", amount))
			entered = entered.Add(d(amount))
		}
		mustExit(t, book, 10, testFill(SideSell, 10, "120", "2.5"))
		mustExit(t, book, 11, testFill(SideSell, 11, "130", "1"))

		open := decimal.Zero
		for _, lot := range book.OpenLots() {
			open = open.Add(lot.Amount)
		}
		matched := decimal.Zero
		for _, pos := range book.ClosedPositions() {
			matched = matched.Add(pos.Entry.Amount)
		}
		if !open.Add(matched).Equal(entered) {
			t.Fatalf("%s: conservation violated: open %s + matched %s != entered %s",
				policy, open, matched, entered)
		}
	}
}

func TestExitFeeProratedAcrossLots(t *testing.T) {
	book := newTestBook(t, MatchFIFO)
	entry := testFill(SideBuy, 0, "100", "2")
	entry.Fee = d("2")
	mustEntry(t, book, 0, entry)
	mustEntry(t, book, 1, testFill(SideBuy, 1, "110", "2"))

	exit := testFill(SideSell, 2, "120", "3")
	exit.Fee = d("3")
	closed := mustExit(t, book, 2, exit)

	if len(closed) != 2 {
		t.Fatalf("expected 2 closed positions, got %d", len(closed))
	}
	assertDec(t, "2", closed[0].Exit.Fee, "first exit fee share")
	assertDec(t, "1", closed[1].Exit.Fee, "second exit fee share")
	assertDec(t, "2", closed[0].Entry.Fee, "entry fee consumed with the lot")

	total := closed[0].Exit.Fee.Add(closed[1].Exit.Fee)
	assertDec(t, "3", total, "total exit fee")
}

func TestFlatBookEstablishesOpeningSide(t *testing.T) {
	book := newTestBook(t, MatchFIFO)
	mustEntry(t, book, 0, testFill(SideSell, 0, "100", "1"))

	if book.OpeningSide() != SideSell {
		t.Fatalf("expected opening side Sell, got %s", book.OpeningSide())
	}
	closed := mustExit(t, book, 1, testFill(SideBuy, 1, "90", "1"))
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	// Short round trip: sold at 100, covered at 90.
	assertDec(t, "10", closed[0].GrossProfit, "short gross profit")
}

func TestPositionBookSerializationRoundTrip(t *testing.T) {
	book := newTestBook(t, MatchFIFO)
	entry := testFill(SideBuy, 0, "100.50", "2")
	entry.Fee = d("0.25")
	entry.OrderID, entry.CorrelationID = "order-1", "corr-1"
	mustEntry(t, book, 0, entry)
	mustEntry(t, book, 1, testFill(SideBuy, 1, "110.10", "1.5"))
	mustExit(t, book, 2, testFill(SideSell, 2, "121", "2.5"))

	encoded, err := json.Marshal(book)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	decoded := new(PositionBook)
	if err := json.Unmarshal(encoded, decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	reencoded, err := json.Marshal(decoded)
	if err != nil {
		t.Fatalf("re-Marshal() error = %v", err)
	}
	if !bytes.Equal(encoded, reencoded) {
		t.Fatalf("round trip is not stable:\n first=%s\nsecond=%s", encoded, reencoded)
	}

	wantLots := book.OpenLots()
	gotLots := decoded.OpenLots()
	if len(wantLots) != len(gotLots) {
		t.Fatalf("expected %d open lots, got %d", len(wantLots), len(gotLots))
	}
	for i := range wantLots {
		if wantLots[i].EntrySequence != gotLots[i].EntrySequence {
			t.Fatalf("lot %d: expected sequence %d, got %d", i, wantLots[i].EntrySequence, gotLots[i].EntrySequence)
		}
		if !wantLots[i].Amount.Equal(gotLots[i].Amount) {
			t.Fatalf("lot %d: expected amount %s, got %s", i, wantLots[i].Amount, gotLots[i].Amount)
		}
	}
	wantClosed := book.ClosedPositions()
	gotClosed := decoded.ClosedPositions()
	if len(wantClosed) != len(gotClosed) {
		t.Fatalf("expected %d closed positions, got %d", len(wantClosed), len(gotClosed))
	}
	for i := range wantClosed {
		if wantClosed[i].EntrySequence != gotClosed[i].EntrySequence ||
			wantClosed[i].ExitSequence != gotClosed[i].ExitSequence {
			t.Fatalf("closed %d: sequence pair mismatch", i)
		}
	}
	if decoded.NextSequence() != book.NextSequence() {
		t.Fatalf("expected next sequence %d, got %d", book.NextSequence(), decoded.NextSequence())
	}
}

func TestRehydrateRepricesClosedPositions(t *testing.T) {
	book := newTestBook(t, MatchFIFO)
	mustEntry(t, book, 0, testFill(SideBuy, 0, "100", "1"))
	mustExit(t, book, 1, testFill(SideSell, 1, "120", "1"))

	rate := costs.ProportionalTransaction{Rate: d("0.01")}
	if err := book.Rehydrate(rate, costs.ZeroHolding()); err != nil {
		t.Fatalf("Rehydrate() error = %v", err)
	}
	closed := book.ClosedPositions()
	// 1% of entry notional 100 plus 1% of exit notional 120.
	assertDec(t, "2.2", closed[0].TotalCost, "repriced cost")
	assertDec(t, "17.8", closed[0].NetProfit, "repriced net profit")
}
