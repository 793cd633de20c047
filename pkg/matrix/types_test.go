package matrix

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return data
}

func TestSyncResponseDocumentationFixture(t *testing.T) {
	data := loadFixture(t, "sync_docs.json")

	var resp SyncResponse
	require.NoError(t, json.Unmarshal(data, &resp))

	assert.Equal(t, "s72595_4483_1934", resp.NextBatch)
	require.NotNil(t, resp.Rooms)

	joined, ok := resp.Rooms.Join["!726s6s6q:example.com"]
	require.True(t, ok)
	require.NotNil(t, joined.Summary)
	assert.Equal(t, []string{"@alice:example.com", "@bob:example.com"}, joined.Summary.Heroes)
	require.NotNil(t, joined.Summary.InvitedMemberCount)
	assert.Equal(t, 0, *joined.Summary.InvitedMemberCount)

	require.NotNil(t, joined.Timeline)
	require.Len(t, joined.Timeline.Events, 2)
	first := joined.Timeline.Events[0]
	assert.Equal(t, int64(1432735824653), first.OriginServerTS)
	assert.Equal(t, "@alice:example.org", first.Extra["state_key"])
	assert.Equal(t, "!726s6s6q:example.com", first.Extra["room_id"])
	require.NotNil(t, first.Unsigned)
	assert.Equal(t, int64(1234), *first.Unsigned.Age)
	require.NotNil(t, joined.Timeline.Limited)
	assert.True(t, *joined.Timeline.Limited)
	assert.Nil(t, joined.UnreadNotifications)

	require.Len(t, joined.State.Events, 1)
	assert.Equal(t, "@alice:example.org", joined.State.Events[0].StateKey)
	assert.Nil(t, joined.State.Events[0].PrevContent)

	invited := resp.Rooms.Invite["!696r7674:example.com"]
	require.NotNil(t, invited.InviteState)
	require.Len(t, invited.InviteState.Events, 2)
	assert.Equal(t, "", invited.InviteState.Events[0].StateKey)

	require.NotNil(t, resp.Rooms.Leave)
	assert.Empty(t, resp.Rooms.Leave)

	require.NotNil(t, resp.Presence)
	assert.Equal(t, "@example:localhost", resp.Presence.Events[0].Extra["sender"])
	assert.Equal(t, json.Number("2478593"), resp.Presence.Events[0].Content["last_active_ago"])

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(out))
}

func TestSyncResponseMissingSectionsAreNil(t *testing.T) {
	var resp SyncResponse
	require.NoError(t, json.Unmarshal([]byte(`{"next_batch":"abc"}`), &resp))

	assert.Equal(t, "abc", resp.NextBatch)
	assert.Nil(t, resp.Rooms)
	assert.Nil(t, resp.Presence)
	assert.Nil(t, resp.AccountData)

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"next_batch":"abc"}`, string(out))
}

func TestSyncResponseEmptySectionsArePreserved(t *testing.T) {
	input := `{"next_batch":"abc","rooms":{"join":{"!r:b":{"timeline":{"events":[]}}}},"presence":{}}`

	var resp SyncResponse
	require.NoError(t, json.Unmarshal([]byte(input), &resp))

	require.NotNil(t, resp.Presence)
	assert.Nil(t, resp.Presence.Events)
	timeline := resp.Rooms.Join["!r:b"].Timeline
	require.NotNil(t, timeline)
	assert.NotNil(t, timeline.Events)
	assert.Empty(t, timeline.Events)
	assert.Nil(t, resp.Rooms.Invite)

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, input, string(out))
}

func TestSyncResponseRequiresNextBatch(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing", `{"rooms":{}}`},
		{"null", `{"next_batch":null}`},
		{"wrong type", `{"next_batch":5}`},
		{"not an object", `"s1"`},
		{"nested event missing type", `{"next_batch":"s","presence":{"events":[{"content":{}}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp SyncResponse
			err := json.Unmarshal([]byte(tt.input), &resp)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestEventCount(t *testing.T) {
	var resp SyncResponse
	require.NoError(t, json.Unmarshal(loadFixture(t, "sync_docs.json"), &resp))

	// 1 presence + 1 account data + joined (1 state + 2 timeline + 1 ephemeral + 2 account data) + 2 invite
	assert.Equal(t, 10, EventCount(&resp))
	assert.Equal(t, 2, RoomCount(&resp))
	assert.Equal(t, 0, EventCount(nil))
	assert.Equal(t, 0, RoomCount(&SyncResponse{NextBatch: "x"}))
}
