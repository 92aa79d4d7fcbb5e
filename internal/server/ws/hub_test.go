package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// streamBus serves a fixed retained stream; IDs are the 1-based index.
type streamBus struct {
	entries [][]byte
	reads   atomic.Int32
}

func (b *streamBus) Publish(context.Context, string, []byte) error { return nil }
func (b *streamBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}
func (b *streamBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.entries = append(b.entries, payload)
	return nil
}

func (b *streamBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.reads.Add(1)
	from := 0
	if lastID != "0" {
		n, err := strconv.Atoi(lastID)
		if err != nil {
			return nil, err
		}
		from = n
	}
	var out []domain.StreamMessage
	for i := from; i < len(b.entries) && len(out) < count; i++ {
		out = append(out, domain.StreamMessage{ID: strconv.Itoa(i + 1), Payload: b.entries[i]})
	}
	return out, nil
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	return startHubWith(t, Config{})
}

func startHubWith(t *testing.T, cfg Config) (*Hub, string) {
	t.Helper()
	cfg.Mode = "devnet"
	cfg.Sequence = func() uint64 { return 41 }
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

func TestHubStreamsEvents(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	status := readFrame(t, conn)
	if status.Type != "status" || !strings.Contains(string(status.Payload), `"sequence":41`) {
		t.Fatalf("status frame = %+v", status)
	}

	err := hub.HandleEvents(context.Background(), []domain.EventRecord{
		{Seq: 42, Name: domain.EventPositionOpened, Payload: json.RawMessage(`{"id":1}`)},
	})
	if err != nil {
		t.Fatal(err)
	}
	ev := readFrame(t, conn)
	var rec domain.EventRecord
	if err := json.Unmarshal(ev.Payload, &rec); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "event" || rec.Seq != 42 || rec.Name != domain.EventPositionOpened {
		t.Fatalf("event frame = %+v", ev)
	}
}

func TestHubFiltersByEventName(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url+"?events=vault_*")
	readFrame(t, conn)

	hub.HandleEvents(context.Background(), []domain.EventRecord{
		{Seq: 1, Name: domain.EventPositionOpened},
		{Seq: 2, Name: domain.EventVaultDeposit},
	})
	var rec domain.EventRecord
	if err := json.Unmarshal(readFrame(t, conn).Payload, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Name != domain.EventVaultDeposit {
		t.Fatalf("received %s", rec.Name)
	}
}

func TestHubReplaysSince(t *testing.T) {
	bus := &streamBus{}
	for seq := uint64(1); seq <= replayBatch+5; seq++ {
		name := domain.EventPositionOpened
		if seq%2 == 0 {
			name = domain.EventVaultDeposit
		}
		payload, _ := json.Marshal(domain.EventRecord{Seq: seq, Name: name})
		bus.StreamAppend(context.Background(), "events", payload)
	}
	bus.StreamAppend(context.Background(), "events", []byte("not json"))

	_, url := startHubWith(t, Config{Backlog: bus, Stream: "events"})
	conn := dial(t, url+"?since=199&events=position_*")
	if f := readFrame(t, conn); f.Type != "status" {
		t.Fatalf("first frame = %s", f.Type)
	}

	var got []uint64
	for _, want := range []uint64{201, 203, 205} {
		var rec domain.EventRecord
		if err := json.Unmarshal(readFrame(t, conn).Payload, &rec); err != nil {
			t.Fatal(err)
		}
		got = append(got, rec.Seq)
		if rec.Seq != want {
			t.Fatalf("replayed %v, want next %d", got, want)
		}
	}
	if n := bus.reads.Load(); n != 2 {
		t.Fatalf("stream reads = %d", n)
	}
}

func TestHubRejectsBadSince(t *testing.T) {
	_, url := startHub(t)
	_, resp, err := websocket.DefaultDialer.Dial(url+"?since=abc", nil)
	if err == nil {
		t.Fatal("dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("response = %+v", resp)
	}
}

func TestIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"position_*": true, "swap": true}}
	for name, want := range map[string]bool{
		"position_closed": true,
		"swap":            true,
		"vault_swap":      false,
		"fees_claimed":    false,
	} {
		if got := c.isSubscribed(name); got != want {
			t.Errorf("isSubscribed(%q) = %v, want %v", name, got, want)
		}
	}
}
