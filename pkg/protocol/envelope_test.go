package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeUpdate(t *testing.T) {
	raw := Encode(NewUpdate([]byte{1, 2, 3}))

	env, err := Decode(raw, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != TypeUpdate {
		t.Errorf("Type = %q, want %q", env.Type, TypeUpdate)
	}
	if !bytes.Equal(env.Update, []byte{1, 2, 3}) {
		t.Errorf("Update = %v, want [1 2 3]", env.Update)
	}
}

func TestDecodePingPong(t *testing.T) {
	for _, raw := range [][]byte{
		[]byte(`{"type":"ping"}`),
		[]byte(`{"type":"pong"}`),
	} {
		if _, err := Decode(raw, 0); err != nil {
			t.Errorf("Decode(%s): %v", raw, err)
		}
	}
}

func TestDecodeAwarenessKeepsStateVerbatim(t *testing.T) {
	raw := []byte(`{"type":"awareness","state":{"cursor":[10,20],"user":"alice"}}`)

	env, err := Decode(raw, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != TypeAwareness {
		t.Fatalf("Type = %q, want awareness", env.Type)
	}
	var state struct {
		User string `json:"user"`
	}
	if err := json.Unmarshal(env.State, &state); err != nil {
		t.Fatalf("state did not survive verbatim: %v", err)
	}
	if state.User != "alice" {
		t.Errorf("state.user = %q, want alice", state.User)
	}
}

func TestDecodeOversized(t *testing.T) {
	raw := make([]byte, MaxMessageSize+1)

	_, err := Decode(raw, 0)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
}

func TestDecodeCustomLimit(t *testing.T) {
	raw := []byte(`{"type":"ping"}`)

	if _, err := Decode(raw, 8); !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge under custom limit", err)
	}
	if _, err := Decode(raw, 1024); err != nil {
		t.Errorf("Decode under generous limit: %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range [][]byte{
		[]byte(`not json at all`),
		[]byte(`{"type":`),
		[]byte(``),
	} {
		if _, err := Decode(raw, 0); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) err = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestDecodeMissingType(t *testing.T) {
	if _, err := Decode([]byte(`{"update":"AQID"}`), 0); !errors.Is(err, ErrMissingType) {
		t.Errorf("missing type: err = %v, want ErrMissingType", err)
	}
	if _, err := Decode([]byte(`{"type":42}`), 0); !errors.Is(err, ErrMissingType) {
		t.Errorf("non-string type: err = %v, want ErrMissingType", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"subscribe"}`), 0); !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
}

func TestDecodeUpdateWithoutPayload(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"update"}`), 0); !errors.Is(err, ErrMalformed) {
		t.Errorf("update without payload: err = %v, want ErrMalformed", err)
	}
}

func TestSyncRoundTrip(t *testing.T) {
	snapshot := []byte(`{"entries":{}}`)
	raw := Encode(NewSync(snapshot))

	env, err := Decode(raw, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != TypeSync {
		t.Fatalf("Type = %q, want sync", env.Type)
	}
	var got []byte
	if err := json.Unmarshal(env.State, &got); err != nil {
		t.Fatalf("unmarshal sync state: %v", err)
	}
	if !bytes.Equal(got, snapshot) {
		t.Errorf("snapshot = %s, want %s", got, snapshot)
	}
}

func TestErrorEnvelope(t *testing.T) {
	env, err := Decode(Encode(NewError("Message too large")), 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != TypeError || env.Message != "Message too large" {
		t.Errorf("got %+v, want error envelope with message", env)
	}
}
