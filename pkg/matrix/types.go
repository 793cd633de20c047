package matrix

import (
	"encoding/json"
	"errors"
)

// LoginRequest is the body of a password login.
type LoginRequest struct {
	Type     string `json:"type"`
	Password string `json:"password,omitempty"`
	User     string `json:"user,omitempty"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	UserID      string `json:"user_id,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	HomeServer  string `json:"home_server,omitempty"`
}

// SyncResponse is one snapshot returned by the sync endpoint. A nil section
// means the server reported no change for it; an empty non-nil section was
// sent explicitly.
type SyncResponse struct {
	NextBatch   string       `json:"next_batch"`
	Rooms       *Rooms       `json:"rooms,omitempty"`
	Presence    *Presence    `json:"presence,omitempty"`
	AccountData *AccountData `json:"account_data,omitempty"`
}

type syncResponseFields SyncResponse

// UnmarshalJSON decodes a snapshot and rejects one without next_batch.
func (r *SyncResponse) UnmarshalJSON(data []byte) error {
	if !isObject(data) {
		return &DecodeError{Type: "SyncResponse", Err: errNotObject}
	}
	var wire struct {
		syncResponseFields
		NextBatch *string `json:"next_batch"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		if errors.Is(err, ErrDecode) {
			return err
		}
		return &DecodeError{Type: "SyncResponse", Err: err}
	}
	if wire.NextBatch == nil {
		return &DecodeError{Type: "SyncResponse", Field: "next_batch", Err: errMissingField}
	}
	*r = SyncResponse(wire.syncResponseFields)
	r.NextBatch = *wire.NextBatch
	return nil
}

// Rooms groups room updates by membership, keyed by room ID.
type Rooms struct {
	Join   map[string]JoinedRoom  `json:"join,omitzero"`
	Invite map[string]InvitedRoom `json:"invite,omitzero"`
	Leave  map[string]LeftRoom    `json:"leave,omitzero"`
}

type JoinedRoom struct {
	Summary             *RoomSummary              `json:"summary,omitempty"`
	State               *State                    `json:"state,omitempty"`
	Timeline            *Timeline                 `json:"timeline,omitempty"`
	Ephemeral           *Ephemeral                `json:"ephemeral,omitempty"`
	AccountData         *AccountData              `json:"account_data,omitempty"`
	UnreadNotifications *UnreadNotificationCounts `json:"unread_notifications,omitempty"`
}

type InvitedRoom struct {
	InviteState *InviteState `json:"invite_state,omitempty"`
}

type LeftRoom struct {
	State       *State       `json:"state,omitempty"`
	Timeline    *Timeline    `json:"timeline,omitempty"`
	AccountData *AccountData `json:"account_data,omitempty"`
}

// RoomSummary carries the room-name calculation inputs.
type RoomSummary struct {
	Heroes             []string `json:"m.heroes,omitzero"`
	JoinedMemberCount  *int     `json:"m.joined_member_count,omitempty"`
	InvitedMemberCount *int     `json:"m.invited_member_count,omitempty"`
}

type State struct {
	Events []StateEvent `json:"events,omitzero"`
}

// Timeline is the slice of room history delivered in this snapshot.
// Limited reports that earlier events were skipped; PrevBatch paginates back.
type Timeline struct {
	Events    []RoomEvent `json:"events,omitzero"`
	Limited   *bool       `json:"limited,omitempty"`
	PrevBatch *string     `json:"prev_batch,omitempty"`
}

type Ephemeral struct {
	Events []Event `json:"events,omitzero"`
}

type AccountData struct {
	Events []Event `json:"events,omitzero"`
}

type Presence struct {
	Events []Event `json:"events,omitzero"`
}

type InviteState struct {
	Events []StrippedState `json:"events,omitzero"`
}

type UnreadNotificationCounts struct {
	HighlightCount    *int `json:"highlight_count,omitempty"`
	NotificationCount *int `json:"notification_count,omitempty"`
}
