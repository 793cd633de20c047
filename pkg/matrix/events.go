package matrix

// Event is the minimal shape shared by every Matrix event: an open content
// object and a type. Any other wire field is kept in Extra.
type Event struct {
	Content JSONObject
	Type    string
	Extra   Extra
}

func (e *Event) fields() []fieldSpec {
	return []fieldSpec{
		contentField("content", &e.Content),
		requiredField("type", &e.Type),
	}
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var decoded Event
	extra, err := splitObject("Event", data, decoded.fields())
	if err != nil {
		return err
	}
	decoded.Extra = extra
	*e = decoded
	return nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	return mergeObject("Event", e.fields(), e.Extra)
}

// RoomEvent is an event that belongs to a room timeline.
type RoomEvent struct {
	Content        JSONObject
	Type           string
	EventID        string
	Sender         string
	OriginServerTS int64
	Unsigned       *UnsignedData
	Extra          Extra
}

func (e *RoomEvent) fields() []fieldSpec {
	return []fieldSpec{
		contentField("content", &e.Content),
		requiredField("type", &e.Type),
		requiredField("event_id", &e.EventID),
		requiredField("sender", &e.Sender),
		requiredField("origin_server_ts", &e.OriginServerTS),
		optionalField("unsigned", &e.Unsigned),
	}
}

func (e *RoomEvent) UnmarshalJSON(data []byte) error {
	var decoded RoomEvent
	extra, err := splitObject("RoomEvent", data, decoded.fields())
	if err != nil {
		return err
	}
	decoded.Extra = extra
	*e = decoded
	return nil
}

func (e RoomEvent) MarshalJSON() ([]byte, error) {
	return mergeObject("RoomEvent", e.fields(), e.Extra)
}

// StateEvent is a room event that updates room state under StateKey.
type StateEvent struct {
	Content        JSONObject
	Type           string
	EventID        string
	Sender         string
	OriginServerTS int64
	Unsigned       *UnsignedData
	// PrevContent is nil when the server did not send it.
	PrevContent JSONObject
	StateKey    string
	Extra       Extra
}

func (e *StateEvent) fields() []fieldSpec {
	return []fieldSpec{
		contentField("content", &e.Content),
		requiredField("type", &e.Type),
		requiredField("event_id", &e.EventID),
		requiredField("sender", &e.Sender),
		requiredField("origin_server_ts", &e.OriginServerTS),
		optionalField("unsigned", &e.Unsigned),
		optionalObjectField("prev_content", &e.PrevContent),
		requiredField("state_key", &e.StateKey),
	}
}

func (e *StateEvent) UnmarshalJSON(data []byte) error {
	var decoded StateEvent
	extra, err := splitObject("StateEvent", data, decoded.fields())
	if err != nil {
		return err
	}
	decoded.Extra = extra
	*e = decoded
	return nil
}

func (e StateEvent) MarshalJSON() ([]byte, error) {
	return mergeObject("StateEvent", e.fields(), e.Extra)
}

// StrippedState is the reduced state event shown to invitees.
type StrippedState struct {
	Content  JSONObject
	StateKey string
	Type     string
	Sender   string
	Extra    Extra
}

func (e *StrippedState) fields() []fieldSpec {
	return []fieldSpec{
		contentField("content", &e.Content),
		requiredField("state_key", &e.StateKey),
		requiredField("type", &e.Type),
		requiredField("sender", &e.Sender),
	}
}

func (e *StrippedState) UnmarshalJSON(data []byte) error {
	var decoded StrippedState
	extra, err := splitObject("StrippedState", data, decoded.fields())
	if err != nil {
		return err
	}
	decoded.Extra = extra
	*e = decoded
	return nil
}

func (e StrippedState) MarshalJSON() ([]byte, error) {
	return mergeObject("StrippedState", e.fields(), e.Extra)
}

// UnsignedData carries server-added metadata that is not covered by the
// event signature.
type UnsignedData struct {
	Age             *int64
	RedactedBecause *Event
	TransactionID   *string
	Extra           Extra
}

func (u *UnsignedData) fields() []fieldSpec {
	return []fieldSpec{
		optionalField("age", &u.Age),
		optionalField("redacted_because", &u.RedactedBecause),
		optionalField("transaction_id", &u.TransactionID),
	}
}

func (u *UnsignedData) UnmarshalJSON(data []byte) error {
	var decoded UnsignedData
	extra, err := splitObject("UnsignedData", data, decoded.fields())
	if err != nil {
		return err
	}
	decoded.Extra = extra
	*u = decoded
	return nil
}

func (u UnsignedData) MarshalJSON() ([]byte, error) {
	return mergeObject("UnsignedData", u.fields(), u.Extra)
}
