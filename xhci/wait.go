package xhci

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff"

	"github.com/ardnew/softxhci/pkg"
)

var errNotReady = errors.New("condition not met")

// waitFor polls cond until it holds. It gives up with pkg.ErrTimeout after
// ResetTimeout, if set, or with the context's error.
func (d *Driver) waitFor(ctx context.Context, what string, cond func() bool) error {
	wctx := ctx
	if d.opts.ResetTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, d.opts.ResetTimeout)
		defer cancel()
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(d.opts.PollInterval), wctx)
	err := backoff.Retry(func() error {
		if cond() {
			return nil
		}
		return errNotReady
	}, b)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("waiting for %s: %w", what, ctx.Err())
	}
	return fmt.Errorf("%w: waiting for %s after %s", pkg.ErrTimeout, what, d.opts.ResetTimeout)
}
