package engine

import (
	"github.com/raaihank/bolahunter/internal/traffic"
	"go.uber.org/zap"
)

// Correlate attaches resp to the captured items whose values appear in the
// path of the request that produced it and that still lack a response. It
// runs before HarvestFromBody for the same response and returns the number of
// items updated.
//
// Only the initiating request's path is scanned. A value that appears solely
// in the body is never backfilled here; HarvestFromBody captures it with its
// response already attached.
func (e *Engine) Correlate(resp traffic.Response) int {
	req := resp.Request()
	if req == nil {
		return 0
	}
	path := req.Path()

	updated := 0
	for _, rule := range e.rules.Enabled() {
		for _, value := range rule.FindAll(path) {
			item, ok := e.pool.Get(value)
			if !ok || !item.AttachResponse(resp) {
				continue
			}
			updated++
			e.backfilled.Add(1)

			e.logger.Info("Response attached to captured identifier",
				zap.String("value", value),
				zap.String("rule", rule.Name))

			snap := item.Snapshot()
			e.emit(Event{Type: EventResponseAttached, Item: &snap, Value: value, Rule: rule.Name})
		}
	}
	return updated
}
