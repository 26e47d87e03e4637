package _switch

import (
	"context"
	"sync"
	"time"

	"github.com/adwski/fileflow/backend/model"
	"github.com/rs/zerolog"
)

const (
	defaultFwdTimout = time.Second
)

// Switch owns the transport-level addressing: every live connection's TX
// channel and the room-scoped broadcast groups. It never looks inside events.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	conns  map[string]chan<- model.Event
	groups map[string]map[string]struct{}
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		conns:  make(map[string]chan<- model.Event),
		groups: make(map[string]map[string]struct{}),
	}
}

func (sw *Switch) Register(connID string, tx chan<- model.Event) {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("connID", connID).
			Msg("connection registered")
	}()

	sw.conns[connID] = tx
}

// Deregister drops the connection and removes it from every group it is
// still part of.
func (sw *Switch) Deregister(connID string) {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("connID", connID).
			Msg("connection deregistered")
	}()

	delete(sw.conns, connID)
	for roomID, group := range sw.groups {
		delete(group, connID)
		if len(group) == 0 {
			delete(sw.groups, roomID)
		}
	}
}

func (sw *Switch) Join(roomID, connID string) {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("roomID", roomID).
			Str("connID", connID).
			Msg("connection joined group")
	}()

	group, ok := sw.groups[roomID]
	if !ok {
		group = make(map[string]struct{})
		sw.groups[roomID] = group
	}
	group[connID] = struct{}{}
}

func (sw *Switch) Leave(roomID, connID string) {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("roomID", roomID).
			Str("connID", connID).
			Msg("connection left group")
	}()

	if group, ok := sw.groups[roomID]; ok {
		delete(group, connID)
		if len(group) == 0 {
			delete(sw.groups, roomID)
		}
	}
}

// Broadcast forwards ev to every group member except exceptConnID. Delivery
// is best effort, a dead member simply never receives the event.
func (sw *Switch) Broadcast(ctx context.Context, roomID, exceptConnID string, ev model.Event) {
	var sent bool

	sw.mx.RLock()
	targets := make([]string, 0, len(sw.groups[roomID]))
	for connID := range sw.groups[roomID] {
		if connID != exceptConnID {
			targets = append(targets, connID)
		}
	}
	sw.mx.RUnlock()

	for _, connID := range targets {
		evSent, canceled := sw.Send(ctx, connID, ev)
		if canceled {
			break
		}
		if evSent {
			sent = true
		}
	}
	if !sent {
		sw.logger.Debug().
			Str("roomID", roomID).
			Str("type", ev.Type).
			Msg("broadcast did not reach anyone")
	}
}

// Send forwards ev to a particular connection. Returns whether the event was
// delivered and whether ctx was canceled mid-send.
func (sw *Switch) Send(ctx context.Context, connID string, ev model.Event) (bool, bool) {
	logger := sw.logger.With().
		Str("connID", connID).
		Str("type", ev.Type).Logger()

	sw.mx.RLock()
	tx, ok := sw.conns[connID]
	sw.mx.RUnlock()

	if !ok {
		logger.Debug().Msg("cannot forward, connection not found")
		return false, false
	}

	var sent, canceled bool
	tCh := time.NewTimer(defaultFwdTimout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
		logger.Error().Msg("dead connection")
	case tx <- ev:
		logger.Trace().Msg("event is forwarded")
		sent = true
	}
	tCh.Stop()
	return sent, canceled
}
