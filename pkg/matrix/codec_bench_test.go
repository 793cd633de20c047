package matrix

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/samber/mo"
)

func benchFixture(b *testing.B) []byte {
	b.Helper()
	data, err := os.ReadFile("testdata/sync_docs.json")
	if err != nil {
		b.Fatalf("failed to read fixture: %v", err)
	}
	return data
}

func BenchmarkDecodeSyncResponse(b *testing.B) {
	data := benchFixture(b)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var resp SyncResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncodeSyncResponse(b *testing.B) {
	var resp SyncResponse
	if err := json.Unmarshal(benchFixture(b), &resp); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := json.Marshal(&resp); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSyncParametersQuery(b *testing.B) {
	params := SyncParameters{
		Filter:      mo.Some(`{"room":{"timeline":{"limit":10}}}`),
		Since:       mo.Some("s72595_4483_1934"),
		FullState:   mo.Some(false),
		SetPresence: mo.Some(SetPresenceOnline),
		Timeout:     mo.Some(30000),
	}
	for i := 0; i < b.N; i++ {
		_ = params.Query().Encode()
	}
}
