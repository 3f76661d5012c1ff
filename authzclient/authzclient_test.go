package authzclient

import (
	"context"
	"testing"
	"time"
)

func trust(n int) *int { return &n }

type fakeRemote struct {
	calls    int
	approved bool
}

func (f *fakeRemote) CheckAuthorization(ctx context.Context, op ProtectedOperation) (bool, error) {
	f.calls++
	return f.approved, nil
}

func TestSupersetsMatchesMonikerAndTrustLevel(t *testing.T) {
	a := ProtectedOperation{Moniker: "foo", TrustLevel: trust(3)}
	b := ProtectedOperation{Moniker: "foo", TrustLevel: trust(1)}
	if !a.Supersets(b) {
		t.Fatalf("trust 3 should superset trust 1")
	}
	if b.Supersets(a) {
		t.Fatalf("trust 1 should not superset trust 3")
	}
}

func TestApprovedSupersetAnswersWithoutUpstreamCall(t *testing.T) {
	remote := &fakeRemote{approved: true}
	client, err := New(remote, func(ctx context.Context) (map[string]string, error) { return nil, nil })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	ok, err := client.CheckAuthorization(context.Background(), ProtectedOperation{Moniker: "foo", TrustLevel: trust(3)})
	if err != nil || !ok {
		t.Fatalf("first check: ok=%v err=%v", ok, err)
	}

	// Give ristretto's async buffers a moment to apply the Set.
	time.Sleep(20 * time.Millisecond)

	ok, err = client.CheckAuthorization(context.Background(), ProtectedOperation{Moniker: "foo", TrustLevel: trust(1)})
	if err != nil || !ok {
		t.Fatalf("second check: ok=%v err=%v", ok, err)
	}
	if remote.calls != 1 {
		t.Fatalf("remote called %d times, want 1", remote.calls)
	}
}

func TestAuthorizationChangedClearsCache(t *testing.T) {
	remote := &fakeRemote{approved: true}
	client, err := New(remote, func(ctx context.Context) (map[string]string, error) { return nil, nil })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	client.CheckAuthorization(context.Background(), ProtectedOperation{Moniker: "foo"})
	time.Sleep(20 * time.Millisecond)
	client.OnAuthorizationChanged()
	time.Sleep(20 * time.Millisecond)

	client.CheckAuthorization(context.Background(), ProtectedOperation{Moniker: "foo"})
	if remote.calls != 2 {
		t.Fatalf("remote called %d times after cache clear, want 2", remote.calls)
	}
}

func TestCredentialsChangedRefetches(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) (map[string]string, error) {
		calls++
		return map[string]string{"n": "v"}, nil
	}
	client, err := New(&fakeRemote{}, fetch)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	if _, err := client.Credentials(context.Background()); err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if _, err := client.Credentials(context.Background()); err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if calls != 1 {
		t.Fatalf("fetch called %d times, want 1 before credentials-changed", calls)
	}

	client.OnCredentialsChanged()
	if _, err := client.Credentials(context.Background()); err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if calls != 2 {
		t.Fatalf("fetch called %d times, want 2 after credentials-changed", calls)
	}
}
