package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/adwski/fileflow/backend/model"
	store "github.com/adwski/fileflow/backend/storage/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	msgJoinFailed    = "Couldn't join the session!"
	msgSenderAborted = "Sender aborted the file Transfer!"
	msgRoomDeleted   = "File transfer complete!"

	guestIdentityPrefix = "guest-"
)

var (
	ErrSessionExists  = errors.New("session already exists for this connection")
	ErrNoSuchSession  = errors.New("no session for this connection")
	ErrCreateSession  = errors.New("unable to create relay session")
	ErrDestroySession = errors.New("unable to destroy relay session")
)

type (
	RoomStore interface {
		CreateRoom(roomID, creatorIdentity string, filesInfo []model.FileInfo) error
		JoinRoom(roomID, identity, connID string) (int, error)
		Lock(roomID string)
		Unlock(roomID string)
		PurgeRoom(roomID string) []string
		RemoveMember(roomID, connID string) (int, bool)
		RoomInfo(roomID string) model.RoomStatus
	}

	Switch interface {
		Register(connID string, tx chan<- model.Event)
		Deregister(connID string)
		Join(roomID, connID string)
		Leave(roomID, connID string)
		Broadcast(ctx context.Context, roomID, exceptConnID string, ev model.Event)
		Send(ctx context.Context, connID string, ev model.Event) (bool, bool)
	}

	PacketCache interface {
		Store(identity string, guest bool, pkt model.FilePacket)
		Flush(identity string) []model.FilePacket
		Acknowledge(identity, roomID string, packetID int)
	}

	CreatorWatch interface {
		Track(identity, roomID string)
		Release(identity string) (string, bool)
	}

	// Service is the session orchestrator. It receives transport events,
	// sequences calls into the registry, cache and watchdog, and emits
	// broadcasts to the relevant room through the switch.
	Service struct {
		store    RoomStore
		sw       Switch
		cache    PacketCache
		wd       CreatorWatch
		logger   zerolog.Logger
		mx       *sync.Mutex
		sessions map[string]*model.Participant
	}

	Config struct {
		RoomStore RoomStore
		Switch    Switch
		Cache     PacketCache
		Watchdog  CreatorWatch
		Logger    *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		store:    cfg.RoomStore,
		sw:       cfg.Switch,
		cache:    cfg.Cache,
		wd:       cfg.Watchdog,
		logger:   cfg.Logger.With().Str("component", "orchestrator").Logger(),
		mx:       &sync.Mutex{},
		sessions: make(map[string]*model.Participant),
	}
}

// CreateSession registers a connection with its client-supplied identity.
// A connection without an identity gets a synthetic guest one that is not
// eligible for packet caching. Buffered packets for a returning identity are
// replayed to their rooms before the event loop starts.
func (svc *Service) CreateSession(ctx context.Context, connID, identity string, wire model.Wire) error {
	guest := identity == ""
	if guest {
		identity = guestIdentityPrefix + uuid.NewString()
	}

	svc.mx.Lock()
	if _, ok := svc.sessions[connID]; ok {
		svc.mx.Unlock()
		return errors.Join(ErrCreateSession, ErrSessionExists)
	}
	svc.sessions[connID] = &model.Participant{
		ConnID:   connID,
		Identity: identity,
		Guest:    guest,
	}
	svc.mx.Unlock()

	svc.sw.Register(connID, wire.TX)
	svc.logger.Debug().
		Str("connID", connID).
		Str("identity", identity).
		Bool("guest", guest).
		Msg("relay session created")

	for _, pkt := range svc.cache.Flush(identity) {
		svc.relayToRoom(ctx, pkt.RoomID, connID, model.EventReceiveFile, pkt)
	}

	go svc.eventLoop(ctx, connID, wire.RX)
	return nil
}

// DeleteSession runs the disconnect procedure: the creator watchdog decision
// first, then membership removal with a member-count broadcast, then
// transport deregistration.
func (svc *Service) DeleteSession(ctx context.Context, connID string) error {
	svc.mx.Lock()
	sess, ok := svc.sessions[connID]
	var roomID string
	if ok {
		delete(svc.sessions, connID)
		roomID = sess.RoomID
	}
	svc.mx.Unlock()
	if !ok {
		return errors.Join(ErrDestroySession, ErrNoSuchSession)
	}

	if createdRoomID, created := svc.wd.Release(sess.Identity); created {
		svc.reapCreatorRoom(ctx, connID, createdRoomID)
	}

	if roomID != "" {
		count, removed := svc.store.RemoveMember(roomID, connID)
		if removed || svc.store.RoomInfo(roomID).Exists {
			svc.relayToRoom(ctx, roomID, connID, model.EventUsers, model.UsersPayload{
				RoomID:    roomID,
				UserCount: count,
				UserID:    sess.Identity,
				UserLeft:  true,
			})
		}
		svc.sw.Leave(roomID, connID)
	}

	svc.sw.Deregister(connID)
	svc.logger.Debug().
		Str("connID", connID).
		Str("identity", sess.Identity).
		Msg("relay session destroyed")
	return nil
}

// reapCreatorRoom decides the fate of a departing creator's room. A locked
// room means the transfer was aborted mid-flight: remaining members get an
// invalidation notice and the room is purged. An unlocked room is left for
// the normal delete-room flow.
func (svc *Service) reapCreatorRoom(ctx context.Context, connID, roomID string) {
	status := svc.store.RoomInfo(roomID)
	switch {
	case !status.Exists:
		svc.logger.Debug().
			Str("roomID", roomID).
			Msg("creator's room is already gone, nothing to reap")
	case status.Locked:
		svc.logger.Warn().
			Str("roomID", roomID).
			Msg("room creator left abruptly mid-transfer")
		svc.relayToRoom(ctx, roomID, connID, model.EventRoomInvalidated, model.RoomInvalidatedPayload{
			Message: msgSenderAborted,
		})
		svc.purge(roomID)
	default:
		svc.logger.Info().
			Str("roomID", roomID).
			Msg("room creator left after transfer completed")
	}
}

// RoomStatus serves the validation endpoint. A locked room is still valid.
func (svc *Service) RoomStatus(roomID string) model.RoomStatus {
	return svc.store.RoomInfo(roomID)
}

func (svc *Service) eventLoop(ctx context.Context, connID string, rx <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-rx:
			if !ok {
				return
			}
			svc.HandleEvent(ctx, connID, ev)
		}
	}
}

// HandleEvent dispatches one inbound event. Malformed events are logged and
// dropped, they never take the process down.
func (svc *Service) HandleEvent(ctx context.Context, connID string, ev model.Event) {
	svc.mx.Lock()
	sess, ok := svc.sessions[connID]
	svc.mx.Unlock()
	if !ok {
		svc.logger.Warn().
			Str("connID", connID).
			Str("type", ev.Type).
			Msg("event from unknown connection")
		return
	}

	switch ev.Type {
	case model.EventCreateRoom:
		svc.handleCreateRoom(sess, ev.Payload)
	case model.EventJoinRoom:
		svc.handleJoinRoom(ctx, sess, ev.Payload)
	case model.EventSendFile:
		svc.handleSendFile(ctx, sess, ev.Payload)
	case model.EventAcknowledge:
		svc.handleAcknowledge(ctx, sess, ev.Payload)
	case model.EventDeleteRoom:
		svc.handleDeleteRoom(ctx, sess, ev.Payload)
	default:
		svc.logger.Warn().
			Str("connID", connID).
			Str("type", ev.Type).
			Msg("unknown event type")
	}
}

func (svc *Service) handleCreateRoom(sess *model.Participant, payload json.RawMessage) {
	var req model.CreateRoomPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		svc.logger.Error().Err(err).Msg("malformed create-room payload")
		return
	}
	if req.ID == "" {
		svc.logger.Error().Msg("room id wasn't provided while creating room")
		return
	}
	if err := svc.store.CreateRoom(req.ID, sess.Identity, req.FilesInfo); err != nil {
		// creation is not idempotent, the caller must not retry with the same id
		svc.logger.Warn().Err(err).
			Str("roomID", req.ID).
			Msg("room creation rejected")
		return
	}
	svc.wd.Track(sess.Identity, req.ID)
	svc.sw.Join(req.ID, sess.ConnID)
	svc.setRoom(sess, req.ID)
	svc.logger.Debug().
		Str("roomID", req.ID).
		Str("identity", sess.Identity).
		Msg("room created")
}

func (svc *Service) handleJoinRoom(ctx context.Context, sess *model.Participant, payload json.RawMessage) {
	var req model.JoinRoomPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		svc.logger.Error().Err(err).Msg("malformed join-room payload")
		return
	}
	if req.ID == "" {
		svc.logger.Error().Msg("room id wasn't provided while joining room")
		return
	}

	// the registry enforces the cap atomically with the insert, a
	// capacity-exceeded join never mutates state
	count, err := svc.store.JoinRoom(req.ID, sess.Identity, sess.ConnID)
	if err != nil {
		svc.logger.Warn().Err(err).
			Str("roomID", req.ID).
			Str("identity", sess.Identity).
			Msg("failed to join the room")
		if errors.Is(err, store.ErrRoomFull) {
			svc.sendTo(ctx, sess.ConnID, model.EventRoomFull, model.RoomFullPayload{
				RoomID: req.ID,
				UserID: req.UserID,
			})
			return
		}
		svc.sendTo(ctx, sess.ConnID, model.EventError, model.ErrorPayload{Message: msgJoinFailed})
		return
	}
	svc.sw.Join(req.ID, sess.ConnID)
	svc.setRoom(sess, req.ID)

	svc.relayToRoom(ctx, req.ID, sess.ConnID, model.EventUsers, model.UsersPayload{
		RoomID:    req.ID,
		UserCount: count,
		UserID:    req.UserID,
	})
}

func (svc *Service) handleSendFile(ctx context.Context, sess *model.Participant, payload json.RawMessage) {
	var pkt model.FilePacket
	if err := json.Unmarshal(payload, &pkt); err != nil {
		svc.logger.Error().Err(err).Msg("malformed sendFile payload")
		return
	}
	if pkt.RoomID == "" {
		svc.logger.Error().Msg("room id wasn't provided in file packet")
		return
	}

	if pkt.IsProcessing {
		// no other user may join in between the transmission
		svc.store.Lock(pkt.RoomID)
	} else {
		// final chunk, no more packets are pending
		svc.store.Unlock(pkt.RoomID)
	}

	pkt.SenderID = sess.Identity
	svc.cache.Store(sess.Identity, sess.Guest, pkt)
	svc.relayToRoom(ctx, pkt.RoomID, sess.ConnID, model.EventReceiveFile, pkt)
}

func (svc *Service) handleAcknowledge(ctx context.Context, sess *model.Participant, payload json.RawMessage) {
	var ack model.Acknowledgement
	if err := json.Unmarshal(payload, &ack); err != nil {
		svc.logger.Error().Err(err).Msg("malformed acknowledge payload")
		return
	}
	svc.cache.Acknowledge(ack.SenderID, ack.RoomID, ack.PacketID)
	svc.relayToRoom(ctx, ack.RoomID, sess.ConnID, model.EventPacketAck, ack)
}

func (svc *Service) handleDeleteRoom(ctx context.Context, sess *model.Participant, payload json.RawMessage) {
	var req model.DeleteRoomPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		svc.logger.Error().Err(err).Msg("malformed deleteRoom payload")
		return
	}
	if req.RoomID == "" {
		svc.logger.Error().Msg("room id wasn't provided while deleting room")
		return
	}
	svc.logger.Warn().Str("roomID", req.RoomID).Msg("deleting room")

	// invalidation notice goes out before members are forced to leave
	svc.relayToRoom(ctx, req.RoomID, sess.ConnID, model.EventRoomInvalidated, model.RoomInvalidatedPayload{
		Message: msgRoomDeleted,
	})
	svc.purge(req.RoomID)
}

// purge deletes the room and forces every former member's connection out of
// the broadcast group. Safe on an already-purged room.
func (svc *Service) purge(roomID string) {
	conns := svc.store.PurgeRoom(roomID)
	for _, connID := range conns {
		svc.sw.Leave(roomID, connID)
		svc.mx.Lock()
		if sess, ok := svc.sessions[connID]; ok && sess.RoomID == roomID {
			sess.RoomID = ""
		}
		svc.mx.Unlock()
	}
}

func (svc *Service) setRoom(sess *model.Participant, roomID string) {
	svc.mx.Lock()
	sess.RoomID = roomID
	svc.mx.Unlock()
}

func (svc *Service) relayToRoom(ctx context.Context, roomID, exceptConnID, eventType string, payload any) {
	ev, err := model.NewEvent(eventType, payload)
	if err != nil {
		svc.logger.Error().Err(err).
			Str("type", eventType).
			Msg("failed to marshal outbound event")
		return
	}
	svc.sw.Broadcast(ctx, roomID, exceptConnID, ev)
}

func (svc *Service) sendTo(ctx context.Context, connID, eventType string, payload any) {
	ev, err := model.NewEvent(eventType, payload)
	if err != nil {
		svc.logger.Error().Err(err).
			Str("type", eventType).
			Msg("failed to marshal outbound event")
		return
	}
	svc.sw.Send(ctx, connID, ev)
}
