package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/adwski/fileflow/backend/model"
	"github.com/rs/zerolog"
)

// Cache buffers unacknowledged outbound chunks per sender identity so a
// sender that reconnects after a brief interruption does not lose in-flight
// packets. Guest identities are never buffered, their sender cannot
// meaningfully reconnect.
type Cache struct {
	logger  zerolog.Logger
	mx      *sync.Mutex
	ttl     time.Duration
	buffers map[string]*buffer
	gen     int64
}

type buffer struct {
	packets []model.FilePacket
	timer   *time.Timer
	gen     int64 // generation of the currently armed timer
}

func New(ttl time.Duration, logger *zerolog.Logger) *Cache {
	return &Cache{
		logger:  logger.With().Str("component", "packet-cache").Logger(),
		mx:      &sync.Mutex{},
		ttl:     ttl,
		buffers: make(map[string]*buffer),
	}
}

// Store buffers pkt under identity, overwriting an entry with the same
// (roomId, packetId) key. Each store re-arms the identity's single
// inactivity timer; when it fires the whole buffer is dropped.
func (c *Cache) Store(identity string, guest bool, pkt model.FilePacket) {
	if guest {
		return
	}
	c.mx.Lock()
	defer c.mx.Unlock()

	b, ok := c.buffers[identity]
	if !ok {
		b = &buffer{}
		c.buffers[identity] = b
	} else {
		b.timer.Stop()
	}
	// arm a fresh timer instead of resetting: a timer that already fired has
	// its expiry callback queued on the mutex, and the generation check in
	// expire keeps that stale callback from clearing the re-armed buffer
	c.gen++
	gen := c.gen
	b.gen = gen
	b.timer = time.AfterFunc(c.ttl, func() {
		c.expire(identity, gen)
	})

	for i := range b.packets {
		if b.packets[i].RoomID == pkt.RoomID && b.packets[i].PacketID == pkt.PacketID {
			b.packets[i] = pkt
			return
		}
	}
	b.packets = append(b.packets, pkt)
}

// Flush takes every buffered packet for identity in packetId order, cancels
// the inactivity timer and clears the buffer. No buffered entries is a no-op.
func (c *Cache) Flush(identity string) []model.FilePacket {
	c.mx.Lock()
	defer c.mx.Unlock()

	b, ok := c.buffers[identity]
	if !ok {
		return nil
	}
	b.timer.Stop()
	delete(c.buffers, identity)

	packets := b.packets
	sort.SliceStable(packets, func(i, j int) bool {
		return packets[i].PacketID < packets[j].PacketID
	})
	c.logger.Debug().
		Str("identity", identity).
		Int("packets", len(packets)).
		Msg("flushing pending packets")
	return packets
}

// Acknowledge removes exactly the (roomId, packetId) entry. Removing an
// absent entry is a no-op, acknowledgements may race timer eviction.
func (c *Cache) Acknowledge(identity, roomID string, packetID int) {
	c.mx.Lock()
	defer c.mx.Unlock()

	b, ok := c.buffers[identity]
	if !ok {
		return
	}
	for i := range b.packets {
		if b.packets[i].RoomID == roomID && b.packets[i].PacketID == packetID {
			b.packets = append(b.packets[:i], b.packets[i+1:]...)
			break
		}
	}
	if len(b.packets) == 0 {
		b.timer.Stop()
		delete(c.buffers, identity)
	}
}

func (c *Cache) expire(identity string, gen int64) {
	c.mx.Lock()
	defer c.mx.Unlock()

	b, ok := c.buffers[identity]
	if !ok || b.gen != gen {
		return
	}
	c.logger.Warn().
		Str("identity", identity).
		Int("packets", len(b.packets)).
		Msg("pending packets expired from inactivity")
	delete(c.buffers, identity)
}
