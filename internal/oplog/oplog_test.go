package oplog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/example/parksys/internal/wire"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()

	var records []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var record map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("malformed log line %q: %v", scanner.Text(), err)
		}
		records = append(records, record)
	}
	return records
}

func TestLogRecordsEventOutcomes(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)

	req := wire.Request{Type: wire.TypeStart, LicenseID: 1000, Timestamp: 1000000, Latitude: 32, Longitude: 35}
	log.Recorded("conn-1", req, 4, "session", int64(7))
	log.Dropped("conn-1", req, "no lot found", fmt.Errorf("not found"))
	log.Rejected("conn-1", 7)

	records := decodeLines(t, buf.Bytes())
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	recorded := records[0]
	if recorded["msg"] != "event recorded" || recorded["type"] != "START" {
		t.Errorf("unexpected recorded entry: %v", recorded)
	}
	if recorded["customer"] != float64(1000) || recorded["lot"] != float64(4) {
		t.Errorf("recorded entry missing identifiers: %v", recorded)
	}

	dropped := records[1]
	if dropped["msg"] != "event dropped" || dropped["reason"] != "no lot found" {
		t.Errorf("unexpected dropped entry: %v", dropped)
	}

	rejected := records[2]
	if rejected["msg"] != "frame rejected" || rejected["type_byte"] != float64(7) {
		t.Errorf("unexpected rejected entry: %v", rejected)
	}
}

func TestOpenAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parksys.log")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	log.ConnectionOpened("conn-1", "10.0.0.1:4242")
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopening appends rather than truncating.
	log, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	log.ConnectionClosed("conn-1", "peer closed")
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	records := decodeLines(t, data)
	if len(records) != 2 {
		t.Fatalf("expected 2 records across reopen, got %d", len(records))
	}
	if records[0]["msg"] != "connection opened" || records[1]["msg"] != "connection closed" {
		t.Errorf("unexpected record order: %v", records)
	}
}

func TestConcurrentWritesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				log.ConnectionOpened(fmt.Sprintf("conn-%d-%d", i, j), "remote")
			}
		}(i)
	}
	wg.Wait()

	records := decodeLines(t, buf.Bytes())
	if len(records) != writers*perWriter {
		t.Fatalf("expected %d intact records, got %d", writers*perWriter, len(records))
	}
}
