// Package replica arbitrates which participant may write the session record
// and turns replicated deliveries into state every participant applies.
package replica

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/anomaly-detection/internal/engine"
	"github.com/DoyleJ11/anomaly-detection/internal/lobby"
	"github.com/DoyleJ11/anomaly-detection/internal/wire"
)

var ErrUnavailable = errors.New("replication unavailable")

// Substrate is the hosting primitive: exclusive write lease plus fan-out.
// *lobby.Lobby implements it.
type Substrate interface {
	Acquire(ctx context.Context, actor string) error
	Publish(ctx context.Context, actor string, payload []byte, events []engine.Event) error
	Ban(ctx context.Context, actor string) error
}

// Delivery is a decoded replicated record as seen by this participant.
type Delivery struct {
	Version int
	Owner   string
	State   engine.State
	Banned  bool
	Events  []engine.Event
}

type Handler func(Delivery)

// Coordinator is owned by a single participant loop and is not safe for
// concurrent use.
type Coordinator struct {
	actor   string
	sub     Substrate
	handler Handler
	owner   bool
	log     *zap.Logger
}

func New(actor string, sub Substrate, handler Handler, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{actor: actor, sub: sub, handler: handler, log: log}
}

// IsOwner reports the lease as last observed; another participant may have
// taken it since.
func (c *Coordinator) IsOwner() bool { return c.owner }

// EnsureOwnership takes the write lease unless this participant already holds it.
func (c *Coordinator) EnsureOwnership(ctx context.Context) error {
	if c.owner {
		return nil
	}
	if err := c.sub.Acquire(ctx, c.actor); err != nil {
		return unavailable("acquire lease", err)
	}
	c.owner = true
	return nil
}

// Commit publishes s as the new authoritative record. Nothing is applied
// locally here: the publisher sees its own commit through Receive like
// everyone else.
func (c *Coordinator) Commit(ctx context.Context, s engine.State, events []engine.Event) error {
	if err := c.EnsureOwnership(ctx); err != nil {
		return err
	}
	payload, err := wire.Encode(s, false)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := c.sub.Publish(ctx, c.actor, payload, events); err != nil {
		if errors.Is(err, lobby.ErrBanned) {
			return err
		}
		c.owner = false
		return unavailable("publish", err)
	}
	return nil
}

// Ban asks the substrate to set this participant's permanent banned flag.
func (c *Coordinator) Ban(ctx context.Context) error {
	if err := c.sub.Ban(ctx, c.actor); err != nil {
		return unavailable("ban", err)
	}
	return nil
}

// Receive is the single entry point for replicated state. The most recent
// delivery always wins; there is no reordering protection.
func (c *Coordinator) Receive(snap lobby.Snapshot) error {
	rec, err := wire.Decode(snap.Payload)
	if err != nil {
		c.log.Warn("discarding undecodable record", zap.Int("version", snap.Version), zap.Error(err))
		return err
	}
	c.owner = snap.Owner == c.actor
	if c.handler != nil {
		c.handler(Delivery{
			Version: snap.Version,
			Owner:   snap.Owner,
			State:   rec.State,
			Banned:  rec.Banned,
			Events:  snap.Events,
		})
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

var _ Substrate = (*lobby.Lobby)(nil)
