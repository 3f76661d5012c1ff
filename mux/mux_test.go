package mux

import (
	"context"
	"io"
	"testing"
	"time"
)

func TestOfferAndAcceptRoundTrip(t *testing.T) {
	a, b := NewPair()
	defer a.Dispose()
	defer b.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	offered := make(chan Channel, 1)
	go func() {
		ch, err := a.OfferChannel(ctx, "greeter")
		if err != nil {
			t.Error(err)
			return
		}
		offered <- ch
	}()

	accepted, err := b.AcceptChannel(ctx, "greeter")
	if err != nil {
		t.Fatalf("AcceptChannel: %v", err)
	}
	offerSide := <-offered

	if _, err := offerSide.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(accepted, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q, want hello", buf)
	}

	if _, err := accepted.Write([]byte("world")); err != nil {
		t.Fatalf("Write back: %v", err)
	}
	buf2 := make([]byte, 5)
	if _, err := io.ReadFull(offerSide, buf2); err != nil {
		t.Fatalf("Read reply: %v", err)
	}
	if string(buf2) != "world" {
		t.Fatalf("got %q, want world", buf2)
	}
}

func TestOnChannelOfferedFiresWithoutWaitingAccept(t *testing.T) {
	a, b := NewPair()
	defer a.Dispose()
	defer b.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	seen := make(chan ChannelOffer, 1)
	unsub := b.OnChannelOffered(func(o ChannelOffer) {
		seen <- o
	})
	defer unsub()

	if _, err := a.OfferChannel(ctx, "push"); err != nil {
		t.Fatalf("OfferChannel: %v", err)
	}

	select {
	case o := <-seen:
		if o.Name != "push" {
			t.Fatalf("offer name = %q, want push", o.Name)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for offer notification")
	}
}

func TestCloseSignalsEOFToPeer(t *testing.T) {
	a, b := NewPair()
	defer a.Dispose()
	defer b.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var offerSide Channel
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch, err := a.OfferChannel(ctx, "c")
		if err != nil {
			t.Error(err)
			return
		}
		offerSide = ch
	}()
	accepted, err := b.AcceptChannel(ctx, "c")
	if err != nil {
		t.Fatalf("AcceptChannel: %v", err)
	}
	<-done

	if err := offerSide.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	buf := make([]byte, 1)
	_, err = accepted.Read(buf)
	if err != io.EOF {
		t.Fatalf("expected io.EOF after peer close, got %v", err)
	}
}

func TestOfferedChannelSignalsAcceptedOncePeerClaimsIt(t *testing.T) {
	a, b := NewPair()
	defer a.Dispose()
	defer b.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	offered := make(chan Channel, 1)
	go func() {
		ch, err := a.OfferChannel(ctx, "greeter")
		if err != nil {
			t.Error(err)
			return
		}
		offered <- ch
	}()

	offerSide := <-offered
	select {
	case <-offerSide.Accepted():
		t.Fatalf("channel reported accepted before any peer called AcceptChannel")
	default:
	}

	if _, err := b.AcceptChannel(ctx, "greeter"); err != nil {
		t.Fatalf("AcceptChannel: %v", err)
	}

	select {
	case <-offerSide.Accepted():
	case <-ctx.Done():
		t.Fatalf("timed out waiting for the offering side to observe acceptance")
	}
}

func TestOfferedChannelSignalsDoneOnLocalClose(t *testing.T) {
	a, b := NewPair()
	defer a.Dispose()
	defer b.Dispose()

	ch, err := a.OfferChannel(context.Background(), "never-accepted")
	if err != nil {
		t.Fatalf("OfferChannel: %v", err)
	}

	select {
	case <-ch.Done():
		t.Fatalf("channel reported done before Close was called")
	default:
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-ch.Done():
	default:
		t.Fatalf("channel should report done immediately after Close")
	}
}
