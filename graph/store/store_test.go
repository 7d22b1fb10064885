package store

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type keyState struct {
	Topic string   `json:"topic"`
	Items []string `json:"items"`
}

func sampleCheckpoint() Checkpoint[keyState] {
	return Checkpoint[keyState]{
		GraphID:   "research",
		ThreadID:  "t1",
		Version:   1,
		Step:      2,
		Next:      []string{"human_feedback"},
		Status:    StatusInterrupted,
		State:     keyState{Topic: "agents", Items: []string{"a"}},
		CreatedAt: time.Now(),
	}
}

func TestComputeKey(t *testing.T) {
	base := sampleCheckpoint()

	key, err := ComputeKey(base)
	if err != nil {
		t.Fatalf("ComputeKey failed: %v", err)
	}
	if !strings.HasPrefix(key, "sha256:") || len(key) != len("sha256:")+64 {
		t.Errorf("unexpected key format: %q", key)
	}

	t.Run("stable", func(t *testing.T) {
		again := sampleCheckpoint()
		again.CreatedAt = again.CreatedAt.Add(time.Hour)
		if k, _ := ComputeKey(again); k != key {
			t.Error("key must not depend on the timestamp")
		}
	})

	changes := map[string]func(*Checkpoint[keyState]){
		"thread":  func(cp *Checkpoint[keyState]) { cp.ThreadID = "t2" },
		"version": func(cp *Checkpoint[keyState]) { cp.Version = 2 },
		"step":    func(cp *Checkpoint[keyState]) { cp.Step = 3 },
		"cursor":  func(cp *Checkpoint[keyState]) { cp.Next = nil },
		"status":  func(cp *Checkpoint[keyState]) { cp.Status = StatusDone },
		"state":   func(cp *Checkpoint[keyState]) { cp.State.Items = append(cp.State.Items, "b") },
	}
	for name, change := range changes {
		t.Run(name, func(t *testing.T) {
			cp := sampleCheckpoint()
			change(&cp)
			if k, _ := ComputeKey(cp); k == key {
				t.Errorf("changing %s must change the key", name)
			}
		})
	}
}

func TestSealAndVerify(t *testing.T) {
	cp, err := Seal(sampleCheckpoint())
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if err := Verify(cp); err != nil {
		t.Errorf("sealed checkpoint should verify: %v", err)
	}

	cp.State.Topic = "tampered"
	if err := Verify(cp); !errors.Is(err, ErrCorruptCheckpoint) {
		t.Errorf("expected ErrCorruptCheckpoint, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		change func(*Checkpoint[keyState])
		ok     bool
	}{
		{"valid", func(*Checkpoint[keyState]) {}, true},
		{"missing graph", func(cp *Checkpoint[keyState]) { cp.GraphID = "" }, false},
		{"missing thread", func(cp *Checkpoint[keyState]) { cp.ThreadID = "" }, false},
		{"zero version", func(cp *Checkpoint[keyState]) { cp.Version = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := sampleCheckpoint()
			tt.change(&cp)
			if err := validate(cp); (err == nil) != tt.ok {
				t.Errorf("validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	cp := sampleCheckpoint()
	cp.Next = nil

	rec, err := encode(cp)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if string(rec.next) != "[]" {
		t.Errorf("nil cursor should encode as an empty list, got %s", rec.next)
	}

	var out Checkpoint[keyState]
	if err := decode(&out, rec.next, rec.state); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.State.Topic != "agents" || len(out.Next) != 0 {
		t.Errorf("unexpected decoded checkpoint: %+v", out)
	}
}
