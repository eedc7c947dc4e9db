package netsvc

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Sync messages are msgpack arrays: ["SYNC_REQ"] and
// ["SYNC_RESP", <remote hub time>].
const (
	syncReqTag  = "SYNC_REQ"
	syncRespTag = "SYNC_RESP"

	// exitTopic is published as the final message before a publisher
	// shuts down so subscribers can terminate cleanly.
	exitTopic = "EXIT"
)

func encodeSyncReq() ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(1); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(syncReqTag); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSyncReq(data []byte) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return fmt.Errorf("failed to decode sync request: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected sync request length %d", n)
	}
	tag, err := dec.DecodeString()
	if err != nil {
		return fmt.Errorf("failed to decode sync request tag: %w", err)
	}
	if tag != syncReqTag {
		return fmt.Errorf("unexpected sync request tag %q", tag)
	}
	return nil
}

func encodeSyncResp(t float64) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(2); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(syncRespTag); err != nil {
		return nil, err
	}
	if err := enc.EncodeFloat64(t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSyncResp(data []byte) (float64, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return 0, fmt.Errorf("failed to decode sync response: %w", err)
	}
	if n != 2 {
		return 0, fmt.Errorf("unexpected sync response length %d", n)
	}
	tag, err := dec.DecodeString()
	if err != nil {
		return 0, fmt.Errorf("failed to decode sync response tag: %w", err)
	}
	if tag != syncRespTag {
		return 0, fmt.Errorf("unexpected sync response tag %q", tag)
	}
	return dec.DecodeFloat64()
}
