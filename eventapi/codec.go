package eventapi

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// headerLen is the number of fixed header positions preceding the
// payload in the wire representation.
const headerLen = 11

var (
	_ msgpack.CustomEncoder = (*Event)(nil)
	_ msgpack.CustomDecoder = (*Event)(nil)
)

// EncodeMsgpack writes the event as a single positional array: the
// eleven header fields in fixed order followed by the payload values.
// Payload values are encoded as float64 so they round-trip exactly.
func (e *Event) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(headerLen + len(e.Payload)); err != nil {
		return err
	}
	if err := enc.EncodeUint32(e.ExperimentID); err != nil {
		return err
	}
	if err := enc.EncodeUint32(e.SessionID); err != nil {
		return err
	}
	if err := enc.EncodeUint16(e.DeviceID); err != nil {
		return err
	}
	if err := enc.EncodeUint64(e.EventID); err != nil {
		return err
	}
	if err := enc.EncodeUint16(uint16(e.Type)); err != nil {
		return err
	}
	for _, f := range []float64{e.DeviceTime, e.LoggedTime, e.HubTime, e.ConfidenceInterval, e.Delay} {
		if err := enc.EncodeFloat64(f); err != nil {
			return err
		}
	}
	if err := enc.EncodeInt32(int32(e.FilterID)); err != nil {
		return err
	}
	for _, v := range e.Payload {
		if err := enc.EncodeFloat64(v); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack reads the positional array written by EncodeMsgpack.
func (e *Event) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n < headerLen {
		return fmt.Errorf("event array too short: %d positions", n)
	}
	if e.ExperimentID, err = dec.DecodeUint32(); err != nil {
		return err
	}
	if e.SessionID, err = dec.DecodeUint32(); err != nil {
		return err
	}
	if e.DeviceID, err = dec.DecodeUint16(); err != nil {
		return err
	}
	if e.EventID, err = dec.DecodeUint64(); err != nil {
		return err
	}
	typ, err := dec.DecodeUint16()
	if err != nil {
		return err
	}
	e.Type = Type(typ)
	for _, dst := range []*float64{&e.DeviceTime, &e.LoggedTime, &e.HubTime, &e.ConfidenceInterval, &e.Delay} {
		if *dst, err = dec.DecodeFloat64(); err != nil {
			return err
		}
	}
	fid, err := dec.DecodeInt32()
	if err != nil {
		return err
	}
	e.FilterID = FilterID(fid)
	e.Payload = nil
	if n > headerLen {
		e.Payload = make([]float64, n-headerLen)
		for i := range e.Payload {
			if e.Payload[i], err = dec.DecodeFloat64(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Marshal packs an event for the pub/sub wire.
func Marshal(e *Event) ([]byte, error) {
	return msgpack.Marshal(e)
}

// Unmarshal unpacks a pub/sub payload. Errors are per-message: the
// caller drops the message and keeps receiving.
func Unmarshal(data []byte) (*Event, error) {
	e := &Event{}
	if err := msgpack.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("failed to unpack event: %w", err)
	}
	return e, nil
}
