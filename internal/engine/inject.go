package engine

import (
	"strings"

	"github.com/raaihank/bolahunter/internal/traffic"
	"go.uber.org/zap"
)

// MaybeAttack returns req with one captured identifier swapped for another of
// the same rule, or req itself when no swap applies.
//
// Nothing is rewritten while disarmed, for replay-tool traffic, or while the
// pool is empty. Otherwise rules are tried in order; the first rule that
// matches the path looks for the oldest active pool value that fully matches
// the same rule and differs from the matched text. Every literal occurrence
// of the matched text is replaced, and no later rule or candidate is
// considered. A rule with no candidate hands over to the next rule. When the
// request refuses the rewritten path, req is returned and nothing is counted.
func (e *Engine) MaybeAttack(req traffic.Request) traffic.Request {
	return e.maybeAttack(req, e.Armed(), req.FromReplayTool())
}

func (e *Engine) maybeAttack(req traffic.Request, armed, fromReplay bool) traffic.Request {
	if !armed || fromReplay || e.pool.Len() == 0 {
		return req
	}

	path := req.Path()
	for _, rule := range e.rules.Enabled() {
		found, ok := rule.FindFirst(path)
		if !ok {
			continue
		}

		for _, item := range e.pool.Items() {
			if item.Value == found || !item.Active() || !rule.MatchesWhole(item.Value) {
				continue
			}

			newPath := strings.ReplaceAll(path, found, item.Value)
			out := req.WithPath(newPath)
			if out.Path() == path {
				e.logger.Warn("Rewritten path rejected",
					zap.String("rule", rule.Name),
					zap.String("new_path", newPath))
				return req
			}
			e.attacks.Add(1)

			e.logger.Info("Path attack",
				zap.String("original", found),
				zap.String("replacement", item.Value),
				zap.String("rule", rule.Name),
				zap.String("method", req.Method()),
				zap.String("new_path", newPath))

			e.emit(Event{
				Type:        EventAttackPerformed,
				Rule:        rule.Name,
				Original:    found,
				Replacement: item.Value,
				Method:      req.Method(),
				OldPath:     path,
				NewPath:     out.Path(),
				Armed:       true,
			})
			return out
		}
	}
	return req
}
