package model

import (
	"encoding/json"
	"time"
)

// Inbound event types sent by clients.
const (
	EventCreateRoom  = "create-room"
	EventJoinRoom    = "join-room"
	EventSendFile    = "sendFile"
	EventAcknowledge = "acknowledge"
	EventDeleteRoom  = "deleteRoom"
)

// Outbound event types sent by the coordinator.
const (
	EventUsers           = "users"
	EventRoomFull        = "roomFull"
	EventError           = "error"
	EventReceiveFile     = "recieveFile" // original wire spelling, clients depend on it
	EventPacketAck       = "packet-acknowledged"
	EventRoomInvalidated = "roomInvalidated"
)

type FileInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	SizeBytes int64  `json:"sizeBytes"`
}

type Room struct {
	ID              string
	FilesInfo       []FileInfo
	Members         map[string]Participant // keyed by durable identity
	Locked          bool
	CreatorIdentity string
	CreatedAt       time.Time
}

type Participant struct {
	ConnID   string
	Identity string
	Guest    bool
	RoomID   string
}

// RoomStatus is what the validation endpoint sees. A locked room is still
// valid, only absence makes it invalid.
type RoomStatus struct {
	Exists    bool       `json:"status"`
	FilesInfo []FileInfo `json:"filesInfo"`
	Locked    bool       `json:"-"`
}

// FilePacket is one chunk of an in-flight transfer. The coordinator relays it
// opaquely, inspecting only RoomID, PacketID and IsProcessing.
type FilePacket struct {
	ChunkBuffer         []byte  `json:"chunkBuffer"`
	PacketID            int     `json:"packetId"`
	IsProcessing        bool    `json:"isProcessing"`
	TotalPackets        int     `json:"totalPackets"`
	ChunkSize           int     `json:"chunkSize"`
	FileName            string  `json:"fileName"`
	FileType            string  `json:"fileType"`
	UniqueID            string  `json:"uniqueID"`
	PercentageCompleted float64 `json:"percentageCompleted"`
	RoomID              string  `json:"roomId"`
	SenderID            string  `json:"senderId,omitempty"` // re-assigned by server from the session identity
}

type Acknowledgement struct {
	RoomID     string  `json:"roomId"`
	Percentage float64 `json:"percentage"`
	PacketID   int     `json:"packetId"`
	UserID     string  `json:"userId"`
	SenderID   string  `json:"senderId"`
}

// Event is the wire envelope in both directions. Inbound payloads are decoded
// per Type into one of the payload structs below.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an outbound envelope.
func NewEvent(eventType string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: b}, nil
}

type CreateRoomPayload struct {
	ID        string     `json:"id"`
	FilesInfo []FileInfo `json:"filesInfo"`
}

type JoinRoomPayload struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

type DeleteRoomPayload struct {
	RoomID string `json:"roomId"`
}

type UsersPayload struct {
	RoomID    string `json:"roomId"`
	UserCount int    `json:"userCount"`
	UserID    string `json:"userId"`
	UserLeft  bool   `json:"userLeft,omitempty"`
}

type RoomFullPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type RoomInvalidatedPayload struct {
	Message string `json:"message"`
}

type Wire struct {
	RX chan Event
	TX chan Event
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Event),
		TX: make(chan Event),
	}
}
