package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rickgao/livewire/internal/model"
)

// Codec names accepted in configuration.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
	NameCBOR    = "cbor"
)

// ErrUnknownCodec is returned by ByName for unsupported names.
var ErrUnknownCodec = errors.New("unknown codec")

// ErrMissingType is returned when a decoded frame has no type tag.
var ErrMissingType = errors.New("frame has no type")

// Codec converts envelopes to and from frame bytes.
type Codec interface {
	// Name returns the configuration name of the codec.
	Name() string

	// Binary reports whether frames must be sent as binary messages.
	Binary() bool

	Encode(env model.Envelope) ([]byte, error)
	Decode(data []byte) (model.Envelope, error)
}

// ByName returns the codec registered under name. An empty name selects
// JSON.
func ByName(name string) (Codec, error) {
	switch name {
	case "", NameJSON:
		return JSON{}, nil
	case NameMsgpack:
		return Msgpack{}, nil
	case NameCBOR:
		return newCBOR()
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// JSON encodes envelopes as JSON text frames.
type JSON struct{}

func (JSON) Name() string { return NameJSON }
func (JSON) Binary() bool { return false }

func (JSON) Encode(env model.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (JSON) Decode(data []byte) (model.Envelope, error) {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.Envelope{}, err
	}
	return checkType(env)
}

// Msgpack encodes envelopes as MessagePack binary frames.
type Msgpack struct{}

func (Msgpack) Name() string { return NameMsgpack }
func (Msgpack) Binary() bool { return true }

func (Msgpack) Encode(env model.Envelope) ([]byte, error) {
	return msgpack.Marshal(&env)
}

func (Msgpack) Decode(data []byte) (model.Envelope, error) {
	var env model.Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return model.Envelope{}, err
	}
	return checkType(env)
}

// CBOR encodes envelopes as CBOR binary frames with RFC 3339 timestamps.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBOR() (CBOR, error) {
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return CBOR{}, fmt.Errorf("cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return CBOR{}, fmt.Errorf("cbor decoder: %w", err)
	}
	return CBOR{enc: enc, dec: dec}, nil
}

func (CBOR) Name() string { return NameCBOR }
func (CBOR) Binary() bool { return true }

func (c CBOR) Encode(env model.Envelope) ([]byte, error) {
	return c.enc.Marshal(env)
}

func (c CBOR) Decode(data []byte) (model.Envelope, error) {
	var env model.Envelope
	if err := c.dec.Unmarshal(data, &env); err != nil {
		return model.Envelope{}, err
	}
	return checkType(env)
}

func checkType(env model.Envelope) (model.Envelope, error) {
	if env.Type == "" {
		return model.Envelope{}, ErrMissingType
	}
	return env, nil
}
