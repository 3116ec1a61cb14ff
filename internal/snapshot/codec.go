package snapshot

import (
	"bytes"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Blob layout: magic | zstd(cbor(payload)).
var magic = []byte("SWS1")

const payloadVersion = 1

type payload struct {
	Version int               `cbor:"1,keyasint"`
	Details map[string]string `cbor:"2,keyasint"`
	Scores  map[string]string `cbor:"3,keyasint"`
	SavedAt int64             `cbor:"4,keyasint"` // unix milli
}

// encMode uses Core Deterministic Encoding: the same State always
// produces the same bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("snapshot: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("snapshot: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode serializes st into a blob.
func Encode(st State, now time.Time) ([]byte, error) {
	p := payload{
		Version: payloadVersion,
		Details: st.Details,
		Scores:  st.Scores,
		SavedAt: now.UnixMilli(),
	}
	if p.Details == nil {
		p.Details = map[string]string{}
	}
	if p.Scores == nil {
		p.Scores = map[string]string{}
	}
	raw, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	out := make([]byte, 0, len(magic)+len(raw)/2)
	out = append(out, magic...)
	return zstdEncoder.EncodeAll(raw, out), nil
}

// Decode parses a blob produced by Encode.
func Decode(blob []byte) (State, time.Time, error) {
	if !bytes.HasPrefix(blob, magic) {
		return State{}, time.Time{}, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	raw, err := zstdDecoder.DecodeAll(blob[len(magic):], nil)
	if err != nil {
		return State{}, time.Time{}, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
	}
	var p payload
	if err := decMode.Unmarshal(raw, &p); err != nil {
		return State{}, time.Time{}, fmt.Errorf("%w: cbor: %v", ErrCorrupt, err)
	}
	if p.Version != payloadVersion {
		return State{}, time.Time{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, p.Version)
	}

	st := Empty()
	for k, v := range p.Details {
		st.Details[k] = v
	}
	for k, v := range p.Scores {
		st.Scores[k] = v
	}
	return st, time.UnixMilli(p.SavedAt), nil
}
