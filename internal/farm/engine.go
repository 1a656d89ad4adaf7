// Package farm runs the farming loop: refresh the world and inventory,
// collect energy, hack eligible targets and walk toward the next one.
package farm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"time"

	"github.com/roman-kulish/ingress-farmbot/internal/game"
	"github.com/roman-kulish/ingress-farmbot/internal/geo"
	"github.com/roman-kulish/ingress-farmbot/internal/persistence/journal"
	"github.com/roman-kulish/ingress-farmbot/internal/protocol"
	"github.com/roman-kulish/ingress-farmbot/internal/store"
	"github.com/roman-kulish/ingress-farmbot/internal/telemetry"
)

var ErrUnsupportedAction = errors.New("unsupported pregame action")

// Client is the game protocol.
type Client interface {
	Handshake(ctx context.Context) (protocol.Handshake, error)
	Call(ctx context.Context, action string, params protocol.Params) (protocol.Response, error)
}

// Indexer resolves scanner boxes into cells and resource ids into points.
type Indexer interface {
	CellsFor(sw, ne geo.LatLng) ([]string, error)
	ResolveResource(id string) (geo.LatLng, int, error)
}

type Journal interface {
	Record(e journal.Entry) error
}

// Policy holds the fixed gameplay constants.
type Policy struct {
	// MinEnergy is the least energy a hack is attempted with.
	MinEnergy int
	// StepMin and StepMax bound the distance walked per cycle, in meters.
	StepMin float64
	StepMax float64
	// ScannerArea is the resource collection radius; targets are hacked
	// within ScannerArea-5.
	ScannerArea int
	// PortalsRange is the search radius for the next target to walk to.
	PortalsRange int
	// Pace is the delay after every move.
	Pace time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MinEnergy:    500,
		StepMin:      1,
		StepMax:      4,
		ScannerArea:  40,
		PortalsRange: 500,
		Pace:         time.Second,
	}
}

type State int

const (
	Initializing State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stop reasons.
const (
	ReasonInventoryFull = "inventory full"
	ReasonNoTargets     = "no targets in range"
	ReasonInterrupted   = "interrupted"
)

// Agent is the bot's own state.
type Agent struct {
	Location          geo.LatLng
	Energy            int
	MaxEnergy         int
	InventoryCount    int
	MaxInventorySlots int

	DistanceSinceRefresh float64
	LastWorldRefresh     time.Time
	LastInventoryRefresh time.Time

	// Pending holds consumed resource ids not yet reported upstream.
	Pending []string

	Faction  game.Faction
	MinLevel float64
}

type Options struct {
	// Location overrides the handshake start location.
	Location *geo.LatLng
	Faction  game.Faction
	MinLevel int
	Policy   Policy

	Logger    *log.Logger
	Journal   Journal
	Telemetry *telemetry.Recorder

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)
	Rand  *rand.Rand
}

type Engine struct {
	client Client
	index  Indexer
	store  *store.Store

	policy    Policy
	logger    *log.Logger
	journal   Journal
	telemetry *telemetry.Recorder
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration)
	rnd       *rand.Rand

	location *geo.LatLng

	state   State
	reason  string
	agent   Agent
	tuning  protocol.Tuning
	actions int
}

func New(client Client, index Indexer, st *store.Store, opts Options) *Engine {
	e := &Engine{
		client:    client,
		index:     index,
		store:     st,
		policy:    opts.Policy,
		logger:    opts.Logger,
		journal:   opts.Journal,
		telemetry: opts.Telemetry,
		now:       opts.Now,
		sleep:     opts.Sleep,
		rnd:       opts.Rand,
		location:  opts.Location,
		state:     Initializing,
	}
	if e.policy == (Policy{}) {
		e.policy = DefaultPolicy()
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard, "", 0)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = sleepCtx
	}
	if e.rnd == nil {
		e.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	minLevel := opts.MinLevel
	if minLevel < 0 {
		minLevel = 0
	}
	e.agent.Faction = opts.Faction
	e.agent.MinLevel = float64(minLevel)
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (e *Engine) State() State   { return e.state }
func (e *Engine) Reason() string { return e.reason }

// Agent returns a copy of the bot state.
func (e *Engine) Agent() Agent {
	a := e.agent
	a.Pending = append([]string(nil), e.agent.Pending...)
	return a
}

// Init performs the handshake and the first inventory load. Any failure is
// fatal and leaves the engine in Initializing. Like a Step, it runs to
// completion even if ctx is cancelled.
func (e *Engine) Init(ctx context.Context) error {
	if e.state != Initializing {
		return fmt.Errorf("init: engine is %s", e.state)
	}
	ctx = context.WithoutCancel(ctx)
	e.logger.Printf("Performing handshake ...")
	h, err := e.client.Handshake(ctx)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if h.PregameAction != protocol.PregameReady {
		return fmt.Errorf("%w: %s", ErrUnsupportedAction, h.PregameAction)
	}
	if err := checkHandshake(h); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	switch {
	case e.location != nil:
		e.agent.Location = *e.location
	case h.StartLocation != nil:
		e.agent.Location = *h.StartLocation
	default:
		return fmt.Errorf("handshake: no start location")
	}
	e.tuning = h.Tuning
	e.agent.Energy = h.Energy
	e.agent.MaxEnergy = h.MaxEnergy()
	e.agent.MaxInventorySlots = h.MaxInventorySlots
	e.store.SetOrigin(e.agent.Location)

	e.logger.Printf("  > Nickname     %s", h.Nickname)
	e.logger.Printf("  > Team         %s", h.Team)
	e.logger.Printf("  > Level        %d (AP %d)", h.Level(), h.AP)
	e.logger.Printf("  > Energy       %d from %d", e.agent.Energy, e.agent.MaxEnergy)
	e.logger.Printf("  > Location     %s", e.agent.Location)

	if err := e.refreshInventory(ctx); err != nil {
		return err
	}
	e.state = Running
	return nil
}

func checkHandshake(h protocol.Handshake) error {
	switch {
	case h.MaxEnergy() <= 0:
		return fmt.Errorf("unknown player level for AP %d", h.AP)
	case h.MaxInventorySlots <= 0:
		return fmt.Errorf("invalid inventory capacity %d", h.MaxInventorySlots)
	case h.Tuning.UpdateInterval <= 0, h.Tuning.UpdateDistance <= 0, h.Tuning.ScannerRange <= 0:
		return fmt.Errorf("invalid scanner tuning %+v", h.Tuning)
	}
	return nil
}

// Run initializes the engine if needed and farms until a stop condition.
// Reaching Stopped returns nil; errors are fatal.
func (e *Engine) Run(ctx context.Context) error {
	if e.state == Initializing {
		if err := e.Init(ctx); err != nil {
			return err
		}
	}
	for e.state == Running {
		if ctx.Err() != nil {
			e.stop(ReasonInterrupted)
			break
		}
		if err := e.Step(ctx); err != nil {
			return err
		}
	}
	if e.telemetry != nil {
		e.logger.Printf("Summary: %s", e.telemetry.Summary())
	}
	return nil
}

// Step runs one iteration of the loop. Cancelling ctx does not cut the
// iteration's requests short; only the pacing delay is interrupted, and Run
// stops at the next boundary.
func (e *Engine) Step(ctx context.Context) error {
	if e.state != Running {
		return fmt.Errorf("step: engine is %s", e.state)
	}
	e.actions = 0
	ictx := context.WithoutCancel(ctx)

	now := e.now()
	if e.agent.DistanceSinceRefresh > float64(e.tuning.UpdateDistance) ||
		now.Sub(e.agent.LastWorldRefresh) > e.tuning.UpdateInterval {
		if err := e.refreshWorld(ictx); err != nil {
			return err
		}
	}
	if e.now().Sub(e.agent.LastInventoryRefresh) > e.tuning.UpdateInterval {
		if err := e.refreshInventory(ictx); err != nil {
			return err
		}
	}
	if e.agent.Energy < e.agent.MaxEnergy {
		if err := e.collectEnergy(); err != nil {
			return err
		}
	}
	if err := e.actionTargets(ictx); err != nil {
		return err
	}
	if e.state != Running {
		return nil
	}
	return e.move(ctx)
}

func (e *Engine) stop(reason string) {
	e.state = Stopped
	e.reason = reason
	e.logger.Printf("Stopped: %s", reason)
}

func (e *Engine) refreshWorld(ctx context.Context) error {
	sw, ne := geo.Bounds(e.agent.Location, float64(e.tuning.ScannerRange))
	cells, err := e.index.CellsFor(sw, ne)
	if err != nil {
		return fmt.Errorf("world refresh: cells: %w", err)
	}
	resp, err := e.call(ctx, protocol.ActionObjectsInCells, protocol.Params{
		CellsAsHex: cells,
		Dates:      make([]int64, len(cells)),
	})
	if err != nil {
		return fmt.Errorf("world refresh: %w", err)
	}
	e.logger.Printf("Refreshed location data: %d cells", len(cells))
	if err := e.processBasket(resp.GameBasket, false); err != nil {
		return fmt.Errorf("world refresh: %w", err)
	}
	e.agent.LastWorldRefresh = e.now()
	e.agent.DistanceSinceRefresh = 0
	return nil
}

func (e *Engine) refreshInventory(ctx context.Context) error {
	since := e.agent.LastWorldRefresh
	if since.IsZero() {
		since = e.now()
	}
	resp, err := e.call(ctx, protocol.ActionGetInventory, protocol.Params{LastQueryTimestamp: since.Unix()})
	if err != nil {
		return fmt.Errorf("inventory refresh: %w", err)
	}
	items, err := resp.GameBasket.InventoryItems()
	if err != nil {
		return fmt.Errorf("inventory refresh: %w", err)
	}
	if err := e.store.ReplaceInventory(items); err != nil {
		return fmt.Errorf("inventory refresh: %w", err)
	}
	if e.agent.InventoryCount, err = e.store.CountInventory(); err != nil {
		return fmt.Errorf("inventory refresh: %w", err)
	}
	rest := resp.GameBasket
	rest.Inventory = nil
	if err := e.processBasket(rest, false); err != nil {
		return fmt.Errorf("inventory refresh: %w", err)
	}
	e.agent.LastInventoryRefresh = e.now()
	return e.logInventory()
}

func (e *Engine) logInventory() error {
	groups, err := e.store.ListInventoryGrouped()
	if err != nil {
		return err
	}
	e.logger.Printf("Inventory:")
	for _, g := range groups {
		e.logger.Printf("  > %-25s %4d", g.Name(), g.Count)
	}
	e.logger.Printf("TOTAL: %d", e.agent.InventoryCount)
	return nil
}
