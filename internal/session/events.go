package session

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/models"
	"github.com/thereayou/cipherchat/internal/router"
	"github.com/thereayou/cipherchat/pkg/apperr"
)

// Inbound is one decoded client event. The set of implementations is closed:
// every type is listed in decoders and handled in Controller.dispatch.
type Inbound interface {
	event() string
}

type Authenticate struct {
	Token string `json:"token"`
}

type CheckUsername struct {
	Username string `json:"username"`
}

type Join struct {
	RoomID string `json:"roomId"`
}

type Part struct {
	ChatID string `json:"chatId"`
}

type CreateRoom struct {
	Name               string                  `json:"name"`
	Topic              string                  `json:"topic"`
	EncryptionScheme   models.EncryptionScheme `json:"encryptionScheme"`
	KeepHistory        bool                    `json:"keepHistory"`
	MembershipRequired bool                    `json:"membershipRequired"`
}

type UpdateRoom struct {
	ID string `json:"id"`
	CreateRoom
}

type MembershipChange string

const (
	MembershipAdd    MembershipChange = "add"
	MembershipModify MembershipChange = "modify"
)

type Membership struct {
	Type       MembershipChange `json:"type"`
	ChatID     string           `json:"chatId"`
	MemberID   string           `json:"memberId"`
	Membership models.Role      `json:"membership"`
}

type RoomMessage struct {
	router.RoomMessageRequest
}

type PrivateMessage struct {
	router.PrivateMessageRequest
}

// GetChat names a private chat by id, by content hash, or by participants.
type GetChat struct {
	ChatID         string      `json:"chatId"`
	ChatHash       string      `json:"chatHash"`
	ParticipantIDs []uuid.UUID `json:"participantIds"`
}

type GetPreviousPage struct {
	ChatID             string `json:"chatId"`
	Type               string `json:"type"`
	ReferenceMessageID string `json:"referenceMessageId"`
}

type ToggleFavorite struct {
	ChatID string `json:"chatId"`
}

type GetRoomKey struct {
	ChatID string `json:"chatId"`
}

func (*Authenticate) event() string    { return "authenticate" }
func (*CheckUsername) event() string   { return "checkUsernameAvailability" }
func (*Join) event() string            { return "join" }
func (*Part) event() string            { return "part" }
func (*CreateRoom) event() string      { return "createRoom" }
func (*UpdateRoom) event() string      { return "updateRoom" }
func (*Membership) event() string      { return "membership" }
func (*RoomMessage) event() string     { return "roomMessage" }
func (*PrivateMessage) event() string  { return "privateMessage" }
func (*GetChat) event() string         { return "getChat" }
func (*GetPreviousPage) event() string { return "getPreviousPage" }
func (*ToggleFavorite) event() string  { return "toggleFavorite" }
func (*GetRoomKey) event() string      { return "getRoomKey" }

var decoders = map[string]func() Inbound{
	"authenticate":              func() Inbound { return &Authenticate{} },
	"checkUsernameAvailability": func() Inbound { return &CheckUsername{} },
	"join":                      func() Inbound { return &Join{} },
	"part":                      func() Inbound { return &Part{} },
	"createRoom":                func() Inbound { return &CreateRoom{} },
	"updateRoom":                func() Inbound { return &UpdateRoom{} },
	"membership":                func() Inbound { return &Membership{} },
	"roomMessage":               func() Inbound { return &RoomMessage{} },
	"privateMessage":            func() Inbound { return &PrivateMessage{} },
	"getChat":                   func() Inbound { return &GetChat{} },
	"getPreviousPage":           func() Inbound { return &GetPreviousPage{} },
	"toggleFavorite":            func() Inbound { return &ToggleFavorite{} },
	"getRoomKey":                func() Inbound { return &GetRoomKey{} },
}

// Decode turns an event name and payload into its typed event.
func Decode(event string, data json.RawMessage) (Inbound, error) {
	newEvent, ok := decoders[event]
	if !ok {
		return nil, apperr.Validation("unknown event " + event)
	}
	ev := newEvent()
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, ev); err != nil {
			return nil, apperr.Wrap(apperr.CodeValidationFailed, "malformed "+event+" payload", err)
		}
	}
	return ev, nil
}

func parseRoomID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid room id")
	}
	return id, nil
}
