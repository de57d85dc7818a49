package engine

import (
	"github.com/raaihank/bolahunter/internal/traffic"
	"go.uber.org/zap"
)

// HarvestFromPath captures every identifier in the request path that the pool
// has not seen yet. The new items have no response. It returns the inserted
// values in discovery order.
func (e *Engine) HarvestFromPath(req traffic.Request) []string {
	return e.harvest(req.Path(), req, nil, SourcePath)
}

// HarvestFromBody captures every new identifier in the response body. The new
// items carry resp and its initiating request. A response without an
// initiating request is ignored.
func (e *Engine) HarvestFromBody(resp traffic.Response) []string {
	req := resp.Request()
	if req == nil {
		return nil
	}
	return e.harvest(resp.Body(), req, resp, SourceBody)
}

func (e *Engine) harvest(text string, req traffic.Request, resp traffic.Response, source Source) []string {
	if text == "" {
		return nil
	}

	var inserted []string
	for _, rule := range e.rules.Enabled() {
		for _, value := range rule.FindAll(text) {
			item, ok := e.pool.InsertIfAbsent(value, rule.Name, req, resp)
			if !ok {
				continue
			}
			inserted = append(inserted, value)
			e.harvested.Add(1)

			e.logger.Info("Harvested identifier",
				zap.String("value", value),
				zap.String("rule", rule.Name),
				zap.String("source", string(source)),
				zap.String("url", item.URL))

			snap := item.Snapshot()
			e.emit(Event{Type: EventItemCaptured, Item: &snap, Source: source, Value: value, Rule: rule.Name})
		}
	}
	return inserted
}
