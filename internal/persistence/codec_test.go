package persistence

import (
	"errors"
	"testing"

	"github.com/petrijr/orchestra/internal/engine"
)

// mustRetryAsConcrete should detect the specific gob interface/concrete mismatch message.
func TestMustRetryAsConcrete_MatchingGobMessage(t *testing.T) {
	msg := "gob: value can only be decoded from remote interface type; received concrete type main.MyType"
	if !mustRetryAsConcrete(errors.New(msg)) {
		t.Fatalf("expected mustRetryAsConcrete to return true for gob interface/concrete mismatch message")
	}
}

func TestMustRetryAsConcrete_NonMatchingErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{name: "unrelated error", err: errors.New("some other failure")},
		{name: "only interface substring", err: errors.New("gob: value can only be decoded from remote interface type")},
		{name: "only concrete substring", err: errors.New("gob: received concrete type main.MyType")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if mustRetryAsConcrete(tc.err) {
				t.Fatalf("expected mustRetryAsConcrete to return false for case %q", tc.name)
			}
		})
	}
}

func TestDecodeValueConvertsNamedMaps(t *testing.T) {
	data, err := EncodeValue(map[string]any{"queue": "fast"})
	if err != nil {
		t.Fatalf("EncodeValue failed: %v", err)
	}
	opts, err := DecodeValue[engine.Options](data)
	if err != nil {
		t.Fatalf("DecodeValue failed: %v", err)
	}
	if opts["queue"] != "fast" {
		t.Fatalf("unexpected options %v", opts)
	}
}

func TestDecodeValueEmptyPayload(t *testing.T) {
	args, err := DecodeValue[[]any](nil)
	if err != nil || args != nil {
		t.Fatalf("expected nil args and no error, got %v, %v", args, err)
	}
}
