package stream

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ledger"
)

func TestPublishReachesSubscribers(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)
	s.Publish(Event{Type: ledger.EventDistributionCreated, DistributionID: 4})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case evt := <-ch:
			if evt.DistributionID != 4 {
				t.Fatalf("unexpected event: %+v", evt)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	if n := s.Subscribers(); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Publish(Event{DistributionID: uint64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestFromLedgerMasksHolder(t *testing.T) {
	holder := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	at := time.Unix(1_700_000_000, 0)
	evt := FromLedger(ledger.Event{
		Type:           ledger.EventDistributionClaimed,
		DistributionID: 2,
		Holder:         holder,
		Amount:         uint256.NewInt(500),
		Block:          9,
		At:             at,
	})
	if evt.Amount != "500" || evt.Block != 9 || evt.ID == "" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if strings.Contains(evt.Holder, holder.Hex()[6:38]) {
		t.Fatalf("holder not masked: %s", evt.Holder)
	}

	created := FromLedger(ledger.Event{Type: ledger.EventDistributionCreated, Amount: uint256.NewInt(1), At: at})
	if created.Holder != "" {
		t.Fatalf("created events carry no holder: %+v", created)
	}
}
