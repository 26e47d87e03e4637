package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/adwski/fileflow/backend/model"
)

var (
	ErrRoomExists    = errors.New("room already exists")
	ErrRoomNotFound  = errors.New("room is not found")
	ErrRoomLocked    = errors.New("room is locked")
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyJoined = errors.New("identity already joined this room")
)

// MemStore is the process-wide room registry. All room state lives here and
// nowhere else; mutations are serialized by a single mutex so an admission
// check and the following join never interleave with another event.
type MemStore struct {
	mx       *sync.Mutex
	db       map[string]*model.Room
	capacity int
}

func NewMemStore(capacity int) *MemStore {
	return &MemStore{
		mx:       &sync.Mutex{},
		db:       make(map[string]*model.Room),
		capacity: capacity,
	}
}

func (ms *MemStore) CreateRoom(roomID, creatorIdentity string, filesInfo []model.FileInfo) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.db[roomID]; ok {
		return ErrRoomExists
	}
	ms.db[roomID] = &model.Room{
		ID:              roomID,
		FilesInfo:       filesInfo,
		Members:         make(map[string]model.Participant),
		CreatorIdentity: creatorIdentity,
		CreatedAt:       time.Now(),
	}
	return nil
}

// JoinRoom admits identity into the room and returns the resulting member
// count. The capacity check and the membership insert happen under the same
// mutex hold, concurrent joins can never both pass the check. Rejoin
// detection compares the durable identity, not the connection id, so a stale
// tab reconnecting under the same identity is rejected.
func (ms *MemStore) JoinRoom(roomID, identity, connID string) (int, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return 0, ErrRoomNotFound
	}
	if room.Locked {
		return 0, ErrRoomLocked
	}
	if _, ok = room.Members[identity]; ok {
		return 0, ErrAlreadyJoined
	}
	if len(room.Members) >= ms.capacity {
		return 0, ErrRoomFull
	}
	room.Members[identity] = model.Participant{
		ConnID:   connID,
		Identity: identity,
		RoomID:   roomID,
	}
	return len(room.Members), nil
}

// MemberCount reports 0 for an absent room, letting the caller fall through
// to the join path for the proper rejection.
func (ms *MemStore) MemberCount(roomID string) int {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return 0
	}
	return len(room.Members)
}

func (ms *MemStore) Lock(roomID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if room, ok := ms.db[roomID]; ok {
		room.Locked = true
	}
}

func (ms *MemStore) Unlock(roomID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if room, ok := ms.db[roomID]; ok {
		room.Locked = false
	}
}

// PurgeRoom deletes the room and returns the connection ids of its former
// members so the caller can force them out of the broadcast group. Purging
// an absent room returns nil.
func (ms *MemStore) PurgeRoom(roomID string) []string {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return nil
	}
	conns := make([]string, 0, len(room.Members))
	for _, member := range room.Members {
		conns = append(conns, member.ConnID)
	}
	delete(ms.db, roomID)
	return conns
}

// RemoveMember drops the member holding connID from the room and returns the
// remaining member count. Absent room or member is a no-op.
func (ms *MemStore) RemoveMember(roomID, connID string) (int, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return 0, false
	}
	for identity, member := range room.Members {
		if member.ConnID == connID {
			delete(room.Members, identity)
			return len(room.Members), true
		}
	}
	return len(room.Members), false
}

// RoomInfo reports existence, filesInfo and lock state. A locked room is
// still reported as existing.
func (ms *MemStore) RoomInfo(roomID string) model.RoomStatus {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return model.RoomStatus{}
	}
	return model.RoomStatus{
		Exists:    true,
		FilesInfo: room.FilesInfo,
		Locked:    room.Locked,
	}
}
