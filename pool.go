// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the default maximum number of in-flight operations.
const DefaultConcurrency = 20

// forEachBounded invokes fn for every index in [0, count) with at most
// limit invocations in flight and returns when all of them returned.
//
// Each invocation owns its index, so callers write into a preallocated
// slice and obtain the canonical order regardless of completion order.
// Once ctx is done fn is still invoked (with a done ctx) so that every
// index gets a value.
func forEachBounded(ctx context.Context, count, limit int, fn func(ctx context.Context, idx int)) {
	group := &errgroup.Group{}
	group.SetLimit(max(limit, 1))
	for idx := range count {
		group.Go(func() error {
			fn(ctx, idx)
			return nil
		})
	}
	_ = group.Wait()
}
