package authzclient

import "sync"

// credentialFuture is the "async-lazy map<string,string>" from spec §4.6:
// a once-guarded fetch whose result is shared by every caller until
// OnCredentialsChanged swaps in a fresh, not-yet-fetched instance.
type credentialFuture struct {
	once  sync.Once
	done  chan struct{}
	value map[string]string
	err   error
}

func newCredentialFuture() *credentialFuture {
	return &credentialFuture{done: make(chan struct{})}
}

func (f *credentialFuture) ensure(fetch func() (map[string]string, error)) (map[string]string, error) {
	f.once.Do(func() {
		defer close(f.done)
		f.value, f.err = fetch()
	})
	<-f.done
	return f.value, f.err
}
