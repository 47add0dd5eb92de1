package vault

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/vyrodovalexey/secretgw/internal/observability"
)

const (
	// minRenewInterval bounds how often the token is renewed.
	minRenewInterval = time.Minute

	// renewRetryInterval is the wait after a failed lookup or renewal.
	renewRetryInterval = 30 * time.Second
)

// tokenRenewer keeps the gateway token alive. It renews once two thirds of
// the remaining TTL have passed and stops for tokens that never expire or
// cannot be renewed.
type tokenRenewer struct {
	client    *vaultClient
	increment time.Duration
	logger    observability.Logger

	minInterval   time.Duration
	retryInterval time.Duration

	cancel   context.CancelFunc
	doneCh   chan struct{}
	stopOnce sync.Once
}

func newTokenRenewer(client *vaultClient, cfg *TokenRenewalConfig) *tokenRenewer {
	return &tokenRenewer{
		client:        client,
		increment:     cfg.Increment,
		logger:        client.logger.With(observability.String("task", "token_renewal")),
		minInterval:   minRenewInterval,
		retryInterval: renewRetryInterval,
		doneCh:        make(chan struct{}),
	}
}

func (r *tokenRenewer) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.loop(ctx)
}

// stop cancels the loop and waits for it to exit.
func (r *tokenRenewer) stop() {
	r.stopOnce.Do(func() {
		if r.cancel == nil {
			close(r.doneCh)
			return
		}
		r.cancel()
		<-r.doneCh
	})
}

func (r *tokenRenewer) loop(ctx context.Context) {
	defer close(r.doneCh)

	ttl, renewable, err := r.lookup(ctx)
	for {
		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("token renewal failed", observability.Error(err))
			wait = r.retryInterval
		case ttl == 0:
			r.logger.Info("token does not expire, renewal stopped")
			return
		case !renewable:
			r.logger.Warn("token is not renewable, renewal stopped", observability.Duration("ttl", ttl))
			return
		default:
			wait = r.nextRenewal(ttl)
			r.logger.Debug("token renewal scheduled",
				observability.Duration("ttl", ttl),
				observability.Duration("in", wait),
			)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		ttl, renewable, err = r.renew(ctx)
	}
}

// nextRenewal returns two thirds of ttl, no shorter than minInterval.
func (r *tokenRenewer) nextRenewal(ttl time.Duration) time.Duration {
	wait := ttl * 2 / 3
	if wait < r.minInterval {
		wait = r.minInterval
	}
	return wait
}

func (r *tokenRenewer) lookup(ctx context.Context) (time.Duration, bool, error) {
	const op = "token.lookup"

	resp, err := r.client.do(ctx, &Request{Method: http.MethodGet, Path: "auth/token/lookup-self"})
	if err != nil {
		return 0, false, annotate(err, op, "")
	}
	secret, err := resp.Secret()
	if err != nil || secret == nil {
		return 0, false, malformed(op, "", err)
	}
	ttl, err := secret.TokenTTL()
	if err != nil {
		return 0, false, malformed(op, "", err)
	}
	renewable, err := secret.TokenIsRenewable()
	if err != nil {
		return 0, false, malformed(op, "", err)
	}
	r.client.metrics.SetTokenTTL(ttl)
	return ttl, renewable, nil
}

func (r *tokenRenewer) renew(ctx context.Context) (time.Duration, bool, error) {
	const op = "token.renew"

	body := map[string]interface{}{}
	if r.increment > 0 {
		body["increment"] = int64(r.increment / time.Second)
	}

	resp, err := r.client.do(ctx, &Request{Method: http.MethodPost, Path: "auth/token/renew-self", Body: body})
	if err != nil {
		err = annotate(err, op, "")
		r.client.metrics.RecordOperation(op, err)
		return 0, false, err
	}
	secret, err := resp.Secret()
	if err != nil || secret == nil || secret.Auth == nil {
		err = malformed(op, "", err)
		r.client.metrics.RecordOperation(op, err)
		return 0, false, err
	}
	r.client.metrics.RecordOperation(op, nil)

	ttl := time.Duration(secret.Auth.LeaseDuration) * time.Second
	r.client.metrics.SetTokenTTL(ttl)
	r.logger.Info("token renewed", observability.Duration("ttl", ttl))
	return ttl, secret.Auth.Renewable, nil
}
