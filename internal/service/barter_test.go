package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"grit-ledger-api/internal/model"
)

type tradeSetup struct {
	f         *fixture
	alice     string
	bob       string
	aliceItem []string
	bobItem   []string
}

func newTradeSetup(t *testing.T) *tradeSetup {
	f := newFixture(t)
	s := &tradeSetup{f: f, alice: f.player(t, "alice", "0"), bob: f.player(t, "bob", "0")}
	for _, name := range []string{"a1", "a2", "a3"} {
		s.aliceItem = append(s.aliceItem, f.item(t, s.alice, name))
	}
	for _, name := range []string{"b1", "b2"} {
		s.bobItem = append(s.bobItem, f.item(t, s.bob, name))
	}
	return s
}

func (s *tradeSetup) itemIDs(t *testing.T, playerID string) []string {
	t.Helper()
	var ids []string
	for _, item := range s.f.state(t, playerID).Items {
		ids = append(ids, item.ID)
	}
	sort.Strings(ids)
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTradeHappyPath(t *testing.T) {
	s := newTradeSetup(t)
	f := s.f

	trade, err := f.barter.ProposeTrade(f.ctx, TradeProposal{
		ProposerID:       s.alice,
		RecipientID:      s.bob,
		OfferedItemIDs:   s.aliceItem[:2],
		RequestedItemIDs: s.bobItem,
	}, t0)
	if err != nil {
		t.Fatal(err)
	}
	if trade.Status != model.TradePending {
		t.Fatalf("status = %s", trade.Status)
	}

	_, err = f.barter.ConfirmTrade(f.ctx, trade.ID, s.alice, t0)
	wantErr(t, err, ErrIllegalTransition)

	if _, err := f.barter.AcceptTrade(f.ctx, trade.ID, s.bob, t0); err != nil {
		t.Fatal(err)
	}
	done, err := f.barter.ConfirmTrade(f.ctx, trade.ID, s.alice, t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != model.TradeCompleted {
		t.Errorf("status = %s", done.Status)
	}

	wantAlice := append([]string{s.aliceItem[2]}, s.bobItem...)
	wantBob := append([]string(nil), s.aliceItem[:2]...)
	sort.Strings(wantAlice)
	sort.Strings(wantBob)
	if got := s.itemIDs(t, s.alice); !equalIDs(got, wantAlice) {
		t.Errorf("alice items = %v, want %v", got, wantAlice)
	}
	if got := s.itemIDs(t, s.bob); !equalIDs(got, wantBob) {
		t.Errorf("bob items = %v, want %v", got, wantBob)
	}

	_, err = f.barter.ConfirmTrade(f.ctx, trade.ID, s.bob, t0)
	wantErr(t, err, ErrIllegalTransition)
}

func TestProposeTradeValidation(t *testing.T) {
	s := newTradeSetup(t)
	f := s.f
	six := []string{"1", "2", "3", "4", "5", "6"}

	tests := []struct {
		name string
		p    TradeProposal
		want error
	}{
		{"self trade", TradeProposal{s.alice, s.alice, s.aliceItem[:1], s.aliceItem[1:2]}, ErrSelfTrade},
		{"nothing offered", TradeProposal{s.alice, s.bob, nil, s.bobItem}, ErrInvalidItems},
		{"nothing requested", TradeProposal{s.alice, s.bob, s.aliceItem, nil}, ErrInvalidItems},
		{"too many items", TradeProposal{s.alice, s.bob, six, s.bobItem}, ErrInvalidItems},
		{"duplicate item", TradeProposal{s.alice, s.bob, []string{s.aliceItem[0], s.aliceItem[0]}, s.bobItem}, ErrInvalidItems},
		{"offers what it lacks", TradeProposal{s.alice, s.bob, s.bobItem[:1], s.bobItem[1:]}, ErrNotOwner},
		{"requests from wrong side", TradeProposal{s.alice, s.bob, s.aliceItem[:1], s.aliceItem[1:2]}, ErrNotOwner},
		{"unknown recipient", TradeProposal{s.alice, "ghost", s.aliceItem[:1], s.bobItem[:1]}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.barter.ProposeTrade(f.ctx, tt.p, t0)
			wantErr(t, err, tt.want)
		})
	}
}

func TestTradeTransitions(t *testing.T) {
	s := newTradeSetup(t)
	f := s.f
	propose := func() string {
		tr, err := f.barter.ProposeTrade(f.ctx, TradeProposal{s.alice, s.bob, s.aliceItem[:1], s.bobItem[:1]}, t0)
		if err != nil {
			t.Fatal(err)
		}
		return tr.ID
	}

	t.Run("proposer cannot accept", func(t *testing.T) {
		_, err := f.barter.AcceptTrade(f.ctx, propose(), s.alice, t0)
		wantErr(t, err, ErrNotParticipant)
	})
	t.Run("outsider cannot reject", func(t *testing.T) {
		carol := f.player(t, "carol", "0")
		_, err := f.barter.RejectTrade(f.ctx, propose(), carol, t0)
		wantErr(t, err, ErrNotParticipant)
	})
	t.Run("recipient cannot cancel", func(t *testing.T) {
		_, err := f.barter.CancelTrade(f.ctx, propose(), s.bob, t0)
		wantErr(t, err, ErrNotParticipant)
	})
	t.Run("cancel is final", func(t *testing.T) {
		id := propose()
		tr, err := f.barter.CancelTrade(f.ctx, id, s.alice, t0)
		if err != nil {
			t.Fatal(err)
		}
		if tr.Status != model.TradeCancelled {
			t.Errorf("status = %s", tr.Status)
		}
		_, err = f.barter.AcceptTrade(f.ctx, id, s.bob, t0)
		wantErr(t, err, ErrIllegalTransition)
	})
	t.Run("accepted cannot be cancelled", func(t *testing.T) {
		id := propose()
		if _, err := f.barter.AcceptTrade(f.ctx, id, s.bob, t0); err != nil {
			t.Fatal(err)
		}
		_, err := f.barter.CancelTrade(f.ctx, id, s.alice, t0)
		wantErr(t, err, ErrIllegalTransition)
	})
	t.Run("reject from accepted", func(t *testing.T) {
		id := propose()
		if _, err := f.barter.AcceptTrade(f.ctx, id, s.bob, t0); err != nil {
			t.Fatal(err)
		}
		tr, err := f.barter.RejectTrade(f.ctx, id, s.alice, t0)
		if err != nil {
			t.Fatal(err)
		}
		if tr.Status != model.TradeRejected {
			t.Errorf("status = %s", tr.Status)
		}
		_, err = f.barter.ConfirmTrade(f.ctx, id, s.alice, t0)
		wantErr(t, err, ErrIllegalTransition)
	})
	t.Run("unknown trade", func(t *testing.T) {
		_, err := f.barter.AcceptTrade(f.ctx, "nope", s.bob, t0)
		wantErr(t, err, ErrNotFound)
	})
}

func TestConfirmTradeAtomicity(t *testing.T) {
	s := newTradeSetup(t)
	f := s.f
	carol := f.player(t, "carol", "0")

	// Two accepted trades both want bob's b1.
	first, err := f.barter.ProposeTrade(f.ctx, TradeProposal{s.alice, s.bob, s.aliceItem[:2], s.bobItem}, t0)
	if err != nil {
		t.Fatal(err)
	}
	carolItem := f.item(t, carol, "c1")
	second, err := f.barter.ProposeTrade(f.ctx, TradeProposal{carol, s.bob, []string{carolItem}, s.bobItem[:1]}, t0)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{first.ID, second.ID} {
		if _, err := f.barter.AcceptTrade(f.ctx, id, s.bob, t0); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.barter.ConfirmTrade(f.ctx, second.ID, s.bob, t0); err != nil {
		t.Fatal(err)
	}

	aliceBefore := s.itemIDs(t, s.alice)
	bobBefore := s.itemIDs(t, s.bob)

	_, err = f.barter.ConfirmTrade(f.ctx, first.ID, s.alice, t0)
	wantErr(t, err, ErrItemNoLongerAvailable)

	if got := s.itemIDs(t, s.alice); !equalIDs(got, aliceBefore) {
		t.Errorf("alice items changed on failed confirm: %v -> %v", aliceBefore, got)
	}
	if got := s.itemIDs(t, s.bob); !equalIDs(got, bobBefore) {
		t.Errorf("bob items changed on failed confirm: %v -> %v", bobBefore, got)
	}
	tr, err := f.barter.GetTrade(f.ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Status != model.TradeAccepted {
		t.Errorf("status after failed confirm = %s, want accepted", tr.Status)
	}
}

func TestConfirmTradeRejectsListedItem(t *testing.T) {
	s := newTradeSetup(t)
	f := s.f

	tr, err := f.barter.ProposeTrade(f.ctx, TradeProposal{s.alice, s.bob, s.aliceItem[:1], s.bobItem[:1]}, t0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.barter.AcceptTrade(f.ctx, tr.ID, s.bob, t0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.auction.ListItem(f.ctx, s.bob, s.bobItem[0], t0); err != nil {
		t.Fatal(err)
	}

	_, err = f.barter.ConfirmTrade(f.ctx, tr.ID, s.alice, t0)
	wantErr(t, err, ErrItemNoLongerAvailable)
	if f.owner(t, s.aliceItem[0]) != s.alice {
		t.Error("alice's item moved")
	}
}

func TestItemLockSerializesTradesAndWaivers(t *testing.T) {
	s := newTradeSetup(t)
	f := s.f

	tr, err := f.barter.ProposeTrade(f.ctx, TradeProposal{s.alice, s.bob, s.aliceItem[:1], s.bobItem[:1]}, t0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.barter.AcceptTrade(f.ctx, tr.ID, s.bob, t0); err != nil {
		t.Fatal(err)
	}
	l, err := f.auction.ListItem(f.ctx, s.alice, s.aliceItem[1], t0)
	if err != nil {
		t.Fatal(err)
	}

	keys := tradeKeys(tr)
	for _, id := range []string{s.aliceItem[0], s.bobItem[0]} {
		found := false
		for _, k := range keys {
			found = found || k == itemKey(id)
		}
		if !found {
			t.Errorf("trade keys %v miss item %s", keys, id)
		}
	}

	// A listing in flight on the requested item holds its key.
	unlock, err := f.locker.Lock(f.ctx, itemKey(s.bobItem[0]))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(f.ctx, 20*time.Millisecond)
	_, err = f.barter.ConfirmTrade(ctx, tr.ID, s.alice, t0)
	cancel()
	wantErr(t, err, ErrConflict)
	unlock()

	unlock, err = f.locker.Lock(f.ctx, itemKey(s.aliceItem[1]))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel = context.WithTimeout(f.ctx, 20*time.Millisecond)
	_, err = f.auction.ResolveWaiver(ctx, l.ID, l.ExpiresAt)
	cancel()
	wantErr(t, err, ErrConflict)
	unlock()

	if _, err := f.barter.ConfirmTrade(f.ctx, tr.ID, s.alice, t0); err != nil {
		t.Fatalf("confirm after release: %v", err)
	}
	if _, err := f.auction.ResolveWaiver(f.ctx, l.ID, l.ExpiresAt); err != nil {
		t.Fatalf("resolve after release: %v", err)
	}
}

func TestConcurrentConfirmsMoveEachItemOnce(t *testing.T) {
	s := newTradeSetup(t)
	f := s.f

	var ids []string
	for i := 0; i < 4; i++ {
		tr, err := f.barter.ProposeTrade(f.ctx, TradeProposal{s.alice, s.bob, s.aliceItem[:1], s.bobItem[:1]}, t0)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.barter.AcceptTrade(f.ctx, tr.ID, s.bob, t0); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, tr.ID)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := f.barter.ConfirmTrade(f.ctx, id, s.alice, t0); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	if won != 1 {
		t.Errorf("completed trades = %d, want 1", won)
	}
	if f.owner(t, s.aliceItem[0]) != s.bob || f.owner(t, s.bobItem[0]) != s.alice {
		t.Error("swap not applied exactly once")
	}
	if n := len(s.itemIDs(t, s.alice)) + len(s.itemIDs(t, s.bob)); n != 5 {
		t.Errorf("total items = %d, want 5", n)
	}
}
