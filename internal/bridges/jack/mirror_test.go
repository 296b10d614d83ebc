package jack

import (
	"slices"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
)

func TestMirror_EnumerateInHandleOrder(t *testing.T) {
	m := NewMirror(-1)
	m.Upsert(record(9, "a2j:Keystation [20] (capture): Keystation MIDI 1", "output"))
	m.Upsert(record(2, "system:capture_1", "output"))
	m.Upsert(record(5, "synth:out", "output"))

	want := []string{"system:capture_1", "synth:out", "a2j:Keystation [20] (capture): Keystation MIDI 1"}
	if got := m.EnumeratePorts(); !slices.Equal(got, want) {
		t.Errorf("EnumeratePorts() = %v, want %v", got, want)
	}
}

func TestMirror_PortInfo(t *testing.T) {
	m := NewMirror(-1)
	rec := record(1, "system:playback_1", "input")
	rec.Physical = true
	rec.Aliases = []string{"alsa_pcm:hw:0:in1", "Speakers:left"}
	m.Upsert(rec)

	info, ok := m.PortInfo("system:playback_1")
	if !ok {
		t.Fatal("PortInfo() ok = false")
	}
	if info.Direction != graph.DirectionInput || !info.Physical || len(info.Aliases) != 2 {
		t.Errorf("PortInfo() = %+v", info)
	}

	// Returned slices are copies.
	info.Aliases[0] = "changed"
	again, _ := m.PortInfo("system:playback_1")
	if again.Aliases[0] != "alsa_pcm:hw:0:in1" {
		t.Error("PortInfo() aliases share storage with the mirror")
	}

	if _, ok := m.PortInfo("nope:x"); ok {
		t.Error("PortInfo(unknown) ok = true")
	}
}

func TestMirror_HandleReuse(t *testing.T) {
	m := NewMirror(-1)
	m.Upsert(record(4, "old:port", "output"))
	m.Upsert(record(4, "new:port", "output"))

	if _, ok := m.PortInfo("old:port"); ok {
		t.Error("old name still resolves after handle reuse")
	}
	if name, _ := m.HandleToName(4); name != "new:port" {
		t.Errorf("HandleToName(4) = %q, want new:port", name)
	}

	// Same name reappearing under a new handle replaces the old entry.
	m.Upsert(record(7, "new:port", "output"))
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestMirror_RetireDropsPeers(t *testing.T) {
	m := NewMirror(-1)
	m.Upsert(record(1, "synth:out", "output", "system:playback_1"))
	m.Upsert(record(2, "system:playback_1", "input", "synth:out"))

	if !m.Retire(2) {
		t.Fatal("Retire(2) = false")
	}
	if m.Retire(2) {
		t.Error("second Retire(2) = true")
	}
	if got := m.ConnectedPeers("synth:out"); len(got) != 0 {
		t.Errorf("ConnectedPeers() after retire = %v, want none", got)
	}
	if _, ok := m.HandleToName(2); ok {
		t.Error("HandleToName() resolves a retired handle with grace disabled")
	}
}

func TestMirror_RetiredHandleExpires(t *testing.T) {
	m := NewMirror(50 * time.Millisecond)
	go m.Start()
	defer m.Stop()

	m.Upsert(record(3, "synth:out", "output"))
	m.Retire(3)

	if name, ok := m.HandleToName(3); !ok || name != "synth:out" {
		t.Fatalf("HandleToName(3) = %q, %v; want synth:out within grace", name, ok)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := m.HandleToName(3); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("retired handle still resolves after grace period")
}

func TestMirror_RetiredNamesSurviveHandleReuse(t *testing.T) {
	tests := []struct {
		name    string
		deliver func(m *Mirror)
	}{
		{"event before tombstone", func(m *Mirror) {
			m.Unregister(5)
			m.Retire(5)
			m.Upsert(record(5, "new:out", "output"))
		}},
		{"tombstone before event", func(m *Mirror) {
			m.Retire(5)
			m.Upsert(record(5, "new:out", "output"))
			m.Unregister(5)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMirror(-1)
			m.Upsert(record(5, "old:out", "output"))

			if _, ok := m.ClaimRetired(5); ok {
				t.Fatal("ClaimRetired() on a live handle ok = true")
			}
			tt.deliver(m)

			if name, ok := m.ClaimRetired(5); !ok || name != "old:out" {
				t.Errorf("ClaimRetired(5) = %q, %v; want old:out, true", name, ok)
			}
			if _, ok := m.ClaimRetired(5); ok {
				t.Error("second ClaimRetired(5) ok = true")
			}
			if name, _ := m.HandleToName(5); name != "new:out" {
				t.Errorf("HandleToName(5) = %q, want new:out", name)
			}
		})
	}
}

func TestMirror_UnannouncedRetirementNotClaimable(t *testing.T) {
	m := NewMirror(-1)
	m.Upsert(record(5, "old:out", "output"))
	m.Retire(5)

	if _, ok := m.ClaimRetired(5); ok {
		t.Error("ClaimRetired() before the unregistration event ok = true")
	}

	for range maxPendingPerHandle * 2 {
		m.Upsert(record(5, "old:out", "output"))
		m.Retire(5)
	}
	m.mu.RLock()
	n := len(m.pending[5])
	m.mu.RUnlock()
	if n != maxPendingPerHandle {
		t.Errorf("pending retirements = %d, want %d", n, maxPendingPerHandle)
	}
}

func TestMirror_SetConnected(t *testing.T) {
	m := NewMirror(-1)
	m.Upsert(record(1, "synth:out", "output"))
	m.Upsert(record(2, "system:playback_1", "input"))

	if m.SetConnected(1, 99, true) {
		t.Error("SetConnected() with unknown handle = true")
	}
	m.SetConnected(1, 2, true)
	m.SetConnected(1, 2, true)
	if got := m.ConnectedPeers("synth:out"); len(got) != 1 {
		t.Errorf("ConnectedPeers() after repeated connect = %v, want one peer", got)
	}
}

func TestMirror_Clear(t *testing.T) {
	m := NewMirror(time.Minute)
	m.Upsert(record(1, "synth:out", "output"))
	m.Retire(1)
	m.Upsert(record(2, "system:playback_1", "input"))

	m.Clear()

	if m.Len() != 0 {
		t.Errorf("Len() after Clear() = %d", m.Len())
	}
	if _, ok := m.HandleToName(1); ok {
		t.Error("retired handle survives Clear()")
	}
	m.Unregister(1)
	if _, ok := m.ClaimRetired(1); ok {
		t.Error("retirement survives Clear()")
	}
}

func TestParseDirection(t *testing.T) {
	tests := map[string]graph.Direction{
		"input":  graph.DirectionInput,
		"output": graph.DirectionOutput,
		"":       graph.DirectionUndefined,
		"both":   graph.DirectionUndefined,
	}
	for in, want := range tests {
		if got := ParseDirection(in); got != want {
			t.Errorf("ParseDirection(%q) = %q, want %q", in, got, want)
		}
	}
}
