package relay

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lanlobby/lanlobby/model"
)

var nop = zerolog.Nop()

type fakeAuthority struct {
	roster map[uint64]string
}

func (a *fakeAuthority) ResolveName(id uint64) (string, bool) {
	name, ok := a.roster[id]
	return name, ok
}

func (a *fakeAuthority) Entries() []model.PeerIdentity {
	out := make([]model.PeerIdentity, 0, len(a.roster))
	for id, name := range a.roster {
		out = append(out, model.PeerIdentity{ClientID: id, DisplayName: name})
	}
	return out
}

type fakeBroadcaster struct {
	broadcasts []model.Frame
	sent       map[uint64][]model.Frame
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{sent: make(map[uint64][]model.Frame)}
}

func (b *fakeBroadcaster) Broadcast(f model.Frame) {
	b.broadcasts = append(b.broadcasts, f)
}

func (b *fakeBroadcaster) Send(id uint64, f model.Frame) error {
	b.sent[id] = append(b.sent[id], f)
	return nil
}

func newTestHost(roster map[uint64]string) (*Host, *fakeBroadcaster, *[]model.ChatMessage) {
	tx := newFakeBroadcaster()
	var local []model.ChatMessage
	h := NewHost(
		&fakeAuthority{roster: roster},
		tx,
		func(msg model.ChatMessage) { local = append(local, msg) },
		&nop,
	)
	return h, tx, &local
}

func TestRelayStampsNameFromRoster(t *testing.T) {
	h, tx, local := newTestHost(map[uint64]string{3: "Player 3"})

	h.Relay(3, "hi")

	if len(tx.broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(tx.broadcasts))
	}
	f := tx.broadcasts[0]
	if f.Type != model.FrameChat || f.Name != "Player 3" || f.Text != "hi" || f.SenderID != 3 {
		t.Fatalf("unexpected broadcast frame %+v", f)
	}
	if len(*local) != 1 || (*local)[0].SenderName != "Player 3" {
		t.Fatalf("host's own display did not get the message: %+v", *local)
	}
}

func TestRelayDropsUnknownSender(t *testing.T) {
	h, tx, local := newTestHost(map[uint64]string{3: "Player 3"})

	h.Relay(9, "spoofed")

	if len(tx.broadcasts) != 0 || len(*local) != 0 {
		t.Fatalf("message from unknown sender was relayed: %+v", tx.broadcasts)
	}
}

func TestRelayDropsEmptyText(t *testing.T) {
	h, tx, _ := newTestHost(map[uint64]string{3: "Player 3"})

	h.Relay(3, "")

	if len(tx.broadcasts) != 0 {
		t.Fatalf("empty message was relayed: %+v", tx.broadcasts)
	}
}

func TestRelayPreservesProcessingOrder(t *testing.T) {
	h, tx, local := newTestHost(map[uint64]string{2: "Player 2", 3: "Player 3"})

	h.Relay(2, "first")
	h.Relay(3, "second")
	h.Relay(2, "third")

	want := []string{"first", "second", "third"}
	if len(tx.broadcasts) != len(want) {
		t.Fatalf("expected %d broadcasts, got %d", len(want), len(tx.broadcasts))
	}
	for i, text := range want {
		if tx.broadcasts[i].Text != text {
			t.Fatalf("broadcast %d out of order: got %q want %q", i, tx.broadcasts[i].Text, text)
		}
		if (*local)[i].Text != text {
			t.Fatalf("local delivery %d out of order: got %q want %q", i, (*local)[i].Text, text)
		}
	}
}

func TestSyncRosterReplaysEveryEntry(t *testing.T) {
	roster := map[uint64]string{1: "Player 1", 2: "Player 2", 5: "Player 5"}
	h, tx, _ := newTestHost(roster)

	h.SyncRoster(7)

	frames := tx.sent[7]
	if len(frames) != len(roster) {
		t.Fatalf("expected %d roster updates, got %d", len(roster), len(frames))
	}
	seen := make(map[uint64]string)
	for _, f := range frames {
		if f.Type != model.FrameRosterUpdate {
			t.Fatalf("unexpected frame type %q", f.Type)
		}
		seen[f.ClientID] = f.Name
	}
	for id, name := range roster {
		if seen[id] != name {
			t.Fatalf("entry %d missing or wrong: got %q want %q", id, seen[id], name)
		}
	}
	if len(tx.broadcasts) != 0 {
		t.Fatal("roster replay must be unicast, not broadcast")
	}
}

func TestAnnounceJoinAndLeaveFanOut(t *testing.T) {
	h, tx, _ := newTestHost(nil)

	h.AnnounceJoin(model.PeerIdentity{ClientID: 4, DisplayName: "Player 4"})
	h.AnnounceLeave(4)

	if len(tx.broadcasts) != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", len(tx.broadcasts))
	}
	if tx.broadcasts[0].Type != model.FrameRosterUpdate || tx.broadcasts[0].ClientID != 4 {
		t.Fatalf("unexpected join frame %+v", tx.broadcasts[0])
	}
	if tx.broadcasts[1].Type != model.FrameRosterRemove || tx.broadcasts[1].ClientID != 4 {
		t.Fatalf("unexpected leave frame %+v", tx.broadcasts[1])
	}
}

func TestHistoryEvictsOldestFirst(t *testing.T) {
	h := NewHistory(25)

	for i := 1; i <= 30; i++ {
		h.Append(model.ChatMessage{Text: fmt.Sprintf("msg %d", i)})
	}

	msgs := h.Messages()
	if len(msgs) != 25 {
		t.Fatalf("expected 25 visible messages, got %d", len(msgs))
	}
	if msgs[0].Text != "msg 6" {
		t.Fatalf("oldest visible should be msg 6, got %q", msgs[0].Text)
	}
	if msgs[24].Text != "msg 30" {
		t.Fatalf("newest visible should be msg 30, got %q", msgs[24].Text)
	}
}

func TestHistoryBelowLimitKeepsAll(t *testing.T) {
	h := NewHistory(25)
	for i := 0; i < 10; i++ {
		h.Append(model.ChatMessage{Text: fmt.Sprintf("msg %d", i)})
	}
	if h.Len() != 10 {
		t.Fatalf("expected 10 messages, got %d", h.Len())
	}
}

func TestHistorySnapshotIsDetached(t *testing.T) {
	h := NewHistory(5)
	h.Append(model.ChatMessage{Text: "one"})

	snap := h.Messages()
	h.Append(model.ChatMessage{Text: "two"})

	if len(snap) != 1 {
		t.Fatalf("snapshot grew after append: %d", len(snap))
	}
}
