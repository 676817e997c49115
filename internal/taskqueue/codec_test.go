package taskqueue

import (
	"testing"
	"time"
)

func TestItemCodecKeepsFields(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := Item{
		ID:          "i1",
		Type:        ItemJob,
		UUID:        "t1",
		ProcessUUID: "p1",
		Job:         "ship",
		Args:        []any{"a", 1, 2.5, true},
		Queue:       "slow",
		EnqueuedAt:  at,
		Trace:       map[string]string{"traceparent": "00-abc-def-01"},
	}

	data, err := EncodeItem(in)
	if err != nil {
		t.Fatalf("EncodeItem failed: %v", err)
	}
	out, err := DecodeItem(data)
	if err != nil {
		t.Fatalf("DecodeItem failed: %v", err)
	}

	if out.ID != in.ID || out.Type != in.Type || out.Job != in.Job || out.Queue != in.Queue {
		t.Fatalf("scalar fields differ: %+v", out)
	}
	if !out.EnqueuedAt.Equal(at) {
		t.Fatalf("expected %v, got %v", at, out.EnqueuedAt)
	}
	if len(out.Args) != 4 || out.Args[2] != 2.5 || out.Args[3] != true {
		t.Fatalf("args differ: %#v", out.Args)
	}
	if out.Trace["traceparent"] != "00-abc-def-01" {
		t.Fatalf("trace carrier lost: %v", out.Trace)
	}
}

func TestDecodeItemRejectsGarbage(t *testing.T) {
	if _, err := DecodeItem([]byte("not gob")); err == nil {
		t.Fatalf("expected an error for garbage input")
	}
}
