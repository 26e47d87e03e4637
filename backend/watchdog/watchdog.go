package watchdog

import (
	"sync"

	"github.com/rs/zerolog"
)

// Watchdog remembers which room each creator identity owns. Ordinary joiners
// are not tracked. The orchestrator consults it on connection loss to decide
// whether the departing connection's room must be invalidated.
type Watchdog struct {
	logger   zerolog.Logger
	mx       *sync.Mutex
	creators map[string]string
}

func New(logger *zerolog.Logger) *Watchdog {
	return &Watchdog{
		logger:   logger.With().Str("component", "watchdog").Logger(),
		mx:       &sync.Mutex{},
		creators: make(map[string]string),
	}
}

func (wd *Watchdog) Track(identity, roomID string) {
	wd.mx.Lock()
	defer wd.mx.Unlock()

	wd.creators[identity] = roomID
	wd.logger.Debug().
		Str("identity", identity).
		Str("roomID", roomID).
		Msg("tracking room creator")
}

// Release looks up and removes the creator mapping for identity. Returns the
// created room's id, if any.
func (wd *Watchdog) Release(identity string) (string, bool) {
	wd.mx.Lock()
	defer wd.mx.Unlock()

	roomID, ok := wd.creators[identity]
	if ok {
		delete(wd.creators, identity)
	}
	return roomID, ok
}
