// Package packet implements the binary frame protocol spoken by the danmaku
// broadcast servers. A physical websocket message carries one or more
// concatenated frames; compressed frames contain a nested batch of frames
// which is flattened during decode.
//
// Wire layout (big-endian):
//
//	total_length  u32
//	header_length u16 (always 16)
//	proto_version u16
//	operation     u32
//	sequence      u32
//	body          total_length - header_length bytes
package packet

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zlib"
)

// HeaderSize is the fixed frame header length in bytes.
const HeaderSize = 16

// Operation identifies what a frame carries.
type Operation uint32

const (
	OpHeartbeat      Operation = 2 // client -> server keepalive
	OpHeartbeatReply Operation = 3 // server -> client, body is the popularity value
	OpCommand        Operation = 5 // server -> client business command (JSON)
	OpAuth           Operation = 7 // client -> server handshake
	OpAuthReply      Operation = 8 // server -> client handshake result
)

// ProtoVer describes how a frame body is encoded.
type ProtoVer uint16

const (
	VerJSON       ProtoVer = 0 // UTF-8 JSON
	VerPopularity ProtoVer = 1 // 4-byte big-endian integer
	VerZlib       ProtoVer = 2 // zlib-compressed batch of frames
	VerBrotli     ProtoVer = 3 // brotli-compressed batch of frames
)

// Outbound frames mirror the reference client: version 1, sequence 1.
// The server ignores both fields.
const (
	outboundVer ProtoVer = 1
	outboundSeq uint32   = 1
)

// ErrTruncated reports a buffer shorter than its header or stated body
// length claims. It is a transport-level error: the connection that
// produced the buffer cannot be trusted to frame correctly anymore.
var ErrTruncated = errors.New("packet: truncated frame")

// Frame is one decoded logical unit.
type Frame struct {
	Op   Operation
	Ver  ProtoVer
	Seq  uint32
	Body []byte
}

// Encode builds a single outbound frame around body.
func Encode(op Operation, body []byte) []byte {
	buf := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(HeaderSize+len(body)))
	binary.BigEndian.PutUint16(buf[4:6], HeaderSize)
	binary.BigEndian.PutUint16(buf[6:8], uint16(outboundVer))
	binary.BigEndian.PutUint32(buf[8:12], uint32(op))
	binary.BigEndian.PutUint32(buf[12:16], outboundSeq)
	copy(buf[HeaderSize:], body)
	return buf
}

// Marshal JSON-encodes payload and wraps it in a frame. A nil payload
// produces an empty body (used for heartbeats).
func Marshal(op Operation, payload any) ([]byte, error) {
	if payload == nil {
		return Encode(op, nil), nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return Encode(op, body), nil
}

// Decode splits buf into frames, decompressing and flattening nested
// batches. Frames with an unknown protocol version are logged and skipped;
// the rest of the buffer is still processed. A truncated buffer returns
// ErrTruncated along with any frames decoded before the damage.
func Decode(buf []byte) ([]Frame, error) {
	var frames []Frame
	for len(buf) > 0 {
		if len(buf) < HeaderSize {
			return frames, fmt.Errorf("%w: %d bytes left, need %d header bytes", ErrTruncated, len(buf), HeaderSize)
		}
		total := binary.BigEndian.Uint32(buf[0:4])
		headerLen := binary.BigEndian.Uint16(buf[4:6])
		ver := ProtoVer(binary.BigEndian.Uint16(buf[6:8]))
		op := Operation(binary.BigEndian.Uint32(buf[8:12]))
		seq := binary.BigEndian.Uint32(buf[12:16])
		if headerLen != HeaderSize || total < uint32(headerLen) {
			return frames, fmt.Errorf("%w: bad header (total=%d header=%d)", ErrTruncated, total, headerLen)
		}
		if uint32(len(buf)) < total {
			return frames, fmt.Errorf("%w: body wants %d bytes, %d available", ErrTruncated, total-uint32(headerLen), len(buf)-HeaderSize)
		}
		body := buf[headerLen:total]
		buf = buf[total:]

		switch ver {
		case VerJSON, VerPopularity:
			frames = append(frames, Frame{Op: op, Ver: ver, Seq: seq, Body: body})
		case VerZlib, VerBrotli:
			inner, err := decompress(ver, body)
			if err != nil {
				return frames, fmt.Errorf("packet: decompress v%d frame: %w", ver, err)
			}
			nested, err := Decode(inner)
			frames = append(frames, nested...)
			if err != nil {
				return frames, err
			}
		default:
			// Outbound-only versions and anything newer than we know:
			// drop the frame, keep walking the buffer.
			slog.Warn("skipping frame with unsupported protocol version",
				slog.Int("ver", int(ver)), slog.Int("op", int(op)), slog.Int("body_len", len(body)))
		}
	}
	return frames, nil
}

func decompress(ver ProtoVer, body []byte) ([]byte, error) {
	switch ver {
	case VerZlib:
		r, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := r.Close(); err != nil {
				slog.Warn("failed to close zlib reader", slog.Any("err", err))
			}
		}()
		return io.ReadAll(r)
	case VerBrotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	default:
		return nil, fmt.Errorf("not a compressed version: %d", ver)
	}
}

// Popularity extracts the room popularity value from a heartbeat-reply body.
func Popularity(body []byte) (int32, error) {
	if len(body) < 4 {
		return 0, fmt.Errorf("%w: popularity body is %d bytes", ErrTruncated, len(body))
	}
	return int32(binary.BigEndian.Uint32(body[:4])), nil
}
