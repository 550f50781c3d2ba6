package lifecycle

import (
	"context"
	"time"

	"github.com/leonardo-lacerda/InstanciaEvo/pkg/evolution"
)

// RetryPolicy bounds how often an empty QR answer is retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// Backoff is the wait after the given 1-based attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if time.Duration(d) >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if time.Duration(d) > p.MaxBackoff {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

type qrPhase int

const (
	qrFetching qrPhase = iota
	qrWaiting
	qrDone
	qrExhausted
	qrFailed
)

func (p qrPhase) String() string {
	switch p {
	case qrFetching:
		return "fetching"
	case qrWaiting:
		return "waiting"
	case qrDone:
		return "done"
	case qrExhausted:
		return "exhausted"
	default:
		return "failed"
	}
}

type qrState struct {
	phase   qrPhase
	attempt int
	wait    time.Duration
	payload evolution.QRCode
	err     error
}

// advance is the transition taken after one fetch.
func (p RetryPolicy) advance(st qrState, qr evolution.QRCode, err error) qrState {
	switch {
	case err != nil:
		st.phase = qrFailed
		st.err = err
	case !qr.Empty():
		st.phase = qrDone
		st.payload = qr
	case st.attempt >= p.MaxAttempts:
		st.phase = qrExhausted
	default:
		st.phase = qrWaiting
		st.wait = p.Backoff(st.attempt)
	}
	return st
}

// runQR drives fetch until a terminal phase or ctx ends.
func (p RetryPolicy) runQR(ctx context.Context, fetch func(context.Context) (evolution.QRCode, error)) qrState {
	p = p.normalized()
	st := qrState{phase: qrFetching}
	for {
		switch st.phase {
		case qrFetching:
			st.attempt++
			qr, err := fetch(ctx)
			st = p.advance(st, qr, err)
		case qrWaiting:
			timer := time.NewTimer(st.wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				st.phase = qrFailed
				st.err = ctx.Err()
				return st
			case <-timer.C:
			}
			st.phase = qrFetching
		default:
			return st
		}
	}
}
