package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestHandlerExposesCollectors(t *testing.T) {
	reg := Init(zerolog.Nop())

	MalformedSnapshotsTotal.WithLabelValues("BTC").Inc()
	FeedConnected.Set(1)

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"bookfeed_malformed_snapshots_total", "bookfeed_feed_connected", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("Expected %s in metrics output", name)
		}
	}
}
