package plugin

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/blockhost/internal/plugin/value"
)

// Broadcast calls hook on every enabled plugin, at most NotifyConcurrency at
// a time. Plugins without the hook are skipped. Failures are logged and do
// not stop delivery to the others; the number of failures is returned.
func (r *Registry) Broadcast(ctx context.Context, hook string, args ...value.Value) int {
	runtimes := r.Running()
	if len(runtimes) == 0 {
		return 0
	}

	failed := make([]bool, len(runtimes))
	var g errgroup.Group
	g.SetLimit(r.notifyN)
	for i, rt := range runtimes {
		i, rt := i, rt
		g.Go(func() error {
			if err := rt.CallHook(ctx, hook, args...); err != nil {
				failed[i] = true
				r.log.WithField("plugin", rt.ID()).WithField("hook", hook).WithError(err).Warn("Plugin notification failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	return n
}
