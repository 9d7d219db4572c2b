package peersync

import (
	"context"
	"errors"
	"fmt"

	"github.com/peerplot/peerplot/pkg/logger"
)

// Future is the one-shot result of credential acquisition.
type Future struct {
	done  chan struct{}
	creds *Credentials
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(creds *Credentials, err error) {
	f.creds, f.err = creds, err
	close(f.done)
}

// Done is closed once acquisition finished, successfully or not.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until acquisition finished or ctx is done.
func (f *Future) Wait(ctx context.Context) (*Credentials, error) {
	select {
	case <-f.done:
		return f.creds, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SessionFunc runs a replication session until ctx is cancelled.
type SessionFunc func(ctx context.Context, creds *Credentials) error

// Bootstrap acquires credentials in the background and starts the
// replication session with them. A credential failure is logged and the
// session is never started; local operation is unaffected.
type Bootstrap struct {
	source  CredentialSource
	session SessionFunc
}

func NewBootstrap(source CredentialSource, session SessionFunc) *Bootstrap {
	return &Bootstrap{source: source, session: session}
}

// Start returns immediately. The returned future resolves with the acquired
// credentials; the session starts right after and runs until ctx is done.
func (b *Bootstrap) Start(ctx context.Context) *Future {
	f := newFuture()
	go func() {
		log := logger.Component("security")
		creds, err := b.source.Acquire(ctx)
		if err == nil && creds == nil {
			err = errors.New("credential source returned nothing")
		}
		if err != nil {
			if !errors.Is(err, ErrCredential) {
				err = fmt.Errorf("%w: %v", ErrCredential, err)
			}
			log.Error().Err(err).Msg("sync disabled: could not load credentials")
			f.complete(nil, err)
			return
		}
		log.Info().Str("identity", creds.CommonName()).Msg("sync credentials loaded")
		f.complete(creds, nil)

		netLog := logger.Component("network")
		netLog.Info().Msg("starting replication session")
		if err := b.session(ctx, creds); err != nil && !errors.Is(err, context.Canceled) {
			netLog.Error().Err(err).Msg("replication session stopped")
			return
		}
		netLog.Info().Msg("replication session stopped")
	}()
	return f
}
