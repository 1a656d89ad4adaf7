package farm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roman-kulish/ingress-farmbot/internal/game"
	"github.com/roman-kulish/ingress-farmbot/internal/geo"
	"github.com/roman-kulish/ingress-farmbot/internal/persistence/journal"
	"github.com/roman-kulish/ingress-farmbot/internal/protocol"
	"github.com/roman-kulish/ingress-farmbot/internal/telemetry"
)

// verdict is how an action result updates a target and the current pass.
type verdict struct {
	burnout  bool
	cooldown bool
	halt     bool
}

func classify(ae protocol.ActionError) verdict {
	switch ae {
	case protocol.ActionOK:
		return verdict{cooldown: true}
	case protocol.ActionTooOften, protocol.ActionServerError:
		return verdict{burnout: true}
	case protocol.ActionOutOfRange, protocol.ActionNeedMoreEnergy:
		return verdict{cooldown: true, halt: true}
	case protocol.ActionUnrecognized:
		return verdict{cooldown: true}
	}
	panic(fmt.Sprintf("farm: unhandled action result %v", ae))
}

// collectEnergy consumes the nearest resources until energy reaches the
// maximum. Consumed ids are held until the next request.
func (e *Engine) collectEnergy() error {
	found, err := e.store.FindNearbyResources(e.policy.ScannerArea)
	if err != nil {
		return fmt.Errorf("collect energy: %w", err)
	}
	pending := make(map[string]bool, len(e.agent.Pending))
	for _, id := range e.agent.Pending {
		pending[id] = true
	}

	before := e.agent.Energy
	for _, r := range found {
		if e.agent.Energy >= e.agent.MaxEnergy {
			break
		}
		if pending[r.ID] {
			continue
		}
		e.agent.Energy += r.Amount
		e.agent.Pending = append(e.agent.Pending, r.ID)
	}
	if e.agent.Energy != before {
		e.logger.Printf("Collecting energy ... %d -> %d", before, e.agent.Energy)
	}
	return nil
}

func (e *Engine) actionTargets(ctx context.Context) error {
	targets, err := e.store.FindNearbyTargets(e.policy.ScannerArea-5, e.agent.Faction, e.agent.MinLevel)
	if err != nil {
		return fmt.Errorf("find targets: %w", err)
	}

	for _, t := range targets {
		if e.agent.Energy < e.agent.MaxEnergy {
			if err := e.collectEnergy(); err != nil {
				return err
			}
		}

		if e.agent.Energy < e.policy.MinEnergy {
			now := e.now()
			if err := e.store.MarkActioned(t.ID, &now, nil); err != nil {
				return err
			}
			e.logger.Printf("Not enough energy to hack %q (%d), deferring", t.DisplayName(), e.agent.Energy)
			e.record(journal.Entry{
				Time: now, TargetID: t.ID, Target: t.DisplayName(), Distance: t.Distance,
				Decision: journal.Deferred, Energy: e.agent.Energy,
			})
			break
		}

		halt, err := e.hack(ctx, t)
		if err != nil {
			return err
		}
		if e.agent.InventoryCount >= e.agent.MaxInventorySlots {
			e.stop(ReasonInventoryFull)
			return nil
		}
		if halt {
			break
		}
	}

	if e.agent.Energy < e.agent.MaxEnergy {
		return e.collectEnergy()
	}
	return nil
}

// hack issues the action on t and persists the outcome. It reports whether
// the rest of the pass should be skipped.
func (e *Engine) hack(ctx context.Context, t game.Target) (bool, error) {
	resp, callErr := e.call(ctx, protocol.ActionHack, protocol.Params{ItemGUID: t.ID})
	if notSent(callErr) {
		e.logger.Printf("Hacking portal %q ... [not sent: %v]", t.DisplayName(), callErr)
		return true, nil
	}
	e.actions++
	now := e.now()

	result, code := protocol.ActionUnrecognized, ""
	if callErr != nil {
		e.logger.Printf("Hacking portal %q ... [%v]", t.DisplayName(), callErr)
	} else {
		result, code = resp.ActionError(), resp.Error
		if result == protocol.ActionUnrecognized {
			e.logger.Printf("Hacking portal %q ... [unrecognized %s]", t.DisplayName(), code)
		} else {
			e.logger.Printf("Hacking portal %q ... [%s]", t.DisplayName(), result)
		}
	}

	v := classify(result)
	var actionTime, burnoutTime *time.Time
	if v.cooldown {
		actionTime = &now
	}
	if v.burnout {
		burnoutTime = &now
	}
	if err := e.store.MarkActioned(t.ID, actionTime, burnoutTime); err != nil {
		return false, err
	}

	items := 0
	if callErr == nil {
		items = len(resp.GameBasket.Inventory)
		if err := e.processBasket(resp.GameBasket, true); err != nil {
			return false, err
		}
	}
	e.record(journal.Entry{
		Time: now, TargetID: t.ID, Target: t.DisplayName(), Distance: t.Distance,
		Decision: journal.Called, Outcome: result.String(), Code: code,
		Burnout: v.burnout, Energy: e.agent.Energy, Items: items,
	})
	return v.halt, nil
}

// notSent reports a call abandoned before the request went out. The target
// keeps its state and the pass ends.
func notSent(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) record(entry journal.Entry) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(entry); err != nil {
		e.logger.Printf("journal: %v", err)
	}
}

// move walks a random step toward the nearest eligible target.
func (e *Engine) move(ctx context.Context) error {
	targets, err := e.store.FindNearbyTargets(e.policy.PortalsRange, e.agent.Faction, e.agent.MinLevel)
	if err != nil {
		return fmt.Errorf("find targets: %w", err)
	}
	if len(targets) == 0 {
		e.stop(ReasonNoTargets)
		return nil
	}
	next := targets[0]

	step := e.policy.StepMin
	if span := e.policy.StepMax - e.policy.StepMin; span > 0 {
		step += e.rnd.Float64() * span
	}
	e.agent.Location = geo.StepToward(e.agent.Location, next.Location, step)
	e.store.SetOrigin(e.agent.Location)
	e.agent.DistanceSinceRefresh += step
	e.logger.Printf("Moving to %q ... %.0f meters", next.DisplayName(), float64(next.Distance)-step)

	if e.telemetry != nil {
		sum := e.telemetry.Summary()
		err := e.telemetry.Record(telemetry.Cycle{
			Time:       e.now().UTC().Format(time.RFC3339),
			Lat:        e.agent.Location.Lat,
			Lng:        e.agent.Location.Lng,
			Energy:     e.agent.Energy,
			Inventory:  e.agent.InventoryCount,
			StepM:      step,
			TravelledM: sum.TravelledM + step,
			Actions:    e.actions,
		})
		if err != nil {
			e.logger.Printf("telemetry: %v", err)
		}
	}

	e.sleep(ctx, e.policy.Pace)
	return nil
}
