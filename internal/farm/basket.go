package farm

import (
	"context"

	"github.com/roman-kulish/ingress-farmbot/internal/protocol"
)

// call fills in the common request fields and flushes the consumed
// resources: they are reported with this request and dropped from the cache.
// A request that never went out keeps them pending.
func (e *Engine) call(ctx context.Context, action string, p protocol.Params) (protocol.Response, error) {
	pending := e.agent.Pending
	if len(pending) > 0 {
		if err := e.store.DeleteResources(pending, 0); err != nil {
			return protocol.Response{}, err
		}
	}
	e.agent.Pending = nil

	loc := e.agent.Location.E6()
	p.KnobSyncTimestamp = e.now().Unix()
	p.PlayerLocation = loc
	p.Location = loc
	p.EnergyGlobGuids = pending
	if p.EnergyGlobGuids == nil {
		p.EnergyGlobGuids = []string{}
	}
	resp, err := e.client.Call(ctx, action, p)
	if notSent(err) {
		// Already gone from the cache; report them with the next request.
		e.agent.Pending = append(pending, e.agent.Pending...)
	}
	return resp, err
}

// processBasket merges a server delta in a fixed order: inventory, map
// entities, player energy, new resources, deletions.
func (e *Engine) processBasket(gb protocol.GameBasket, emit bool) error {
	items, err := gb.InventoryItems()
	if err != nil {
		return err
	}
	if len(items) > 0 {
		lines, err := e.store.MergeInventoryDelta(items, emit)
		if err != nil {
			return err
		}
		for _, l := range lines {
			e.logger.Printf("  > %s", l)
		}
		if e.agent.InventoryCount, err = e.store.CountInventory(); err != nil {
			return err
		}
		e.logger.Printf("* Inventory updated ... %d items", e.agent.InventoryCount)
	}

	if updates := gb.EntityUpdates(); len(updates) > 0 {
		if err := e.store.MergeTargets(updates); err != nil {
			return err
		}
	}

	if gb.PlayerEntity != nil {
		personal := gb.PlayerEntity.Body.PlayerPersonal
		e.agent.Energy = int(personal.Energy)
		e.logger.Printf("* Energy level updated ... %d from %d (AP %d)", e.agent.Energy, e.agent.MaxEnergy, int(personal.AP))
	}

	if len(gb.EnergyGlobGuids) > 0 {
		if err := e.store.MergeResources(gb.EnergyGlobGuids, e.index); err != nil {
			return err
		}
	}

	if deleted := gb.DeletedEntityGuids; len(deleted) > 0 {
		if err := e.store.DeleteResources(deleted, e.tuning.ScannerRange); err != nil {
			return err
		}
		if err := e.store.DeleteEntities(deleted); err != nil {
			return err
		}
	}
	return nil
}
