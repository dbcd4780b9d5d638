// Package resp implements the Redis RESP (REdis Serialization Protocol)
// wire codec: status/error/integer/bulk/array/nil replies, and array-of-
// bulk-string request encoding.
package resp

import (
	"bytes"
	"fmt"
	"strconv"

	"shardgate/internal/codec"
)

// Codec is a stateless RESP decoder/encoder. A single instance may be
// shared across channels; all mutable cursor state lives in the caller's
// buffer, not here.
type Codec struct{}

// New returns a ready-to-use RESP codec.
func New() *Codec { return &Codec{} }

func (Codec) Name() string { return "resp" }

// Decode extracts as many complete top-level replies as buf holds.
// It never blocks and never mutates buf; the caller is responsible for
// discarding the first `consumed` bytes once Decode returns.
func (Codec) Decode(buf []byte) ([]codec.Reply, int, codec.Status, error) {
	var replies []codec.Reply
	offset := 0
	for {
		reply, n, status, err := decodeOne(buf[offset:])
		if err != nil {
			return replies, offset, codec.FrameErr, err
		}
		if status == codec.PartOK {
			return replies, offset, codec.PartOK, nil
		}
		replies = append(replies, reply)
		offset += n
		if offset >= len(buf) {
			return replies, offset, codec.FrameOK, nil
		}
	}
}

// decodeOne decodes a single top-level RESP value starting at buf[0].
// It returns status PartOK (with n==0) when buf does not yet hold a
// complete value.
func decodeOne(buf []byte) (codec.Reply, int, codec.Status, error) {
	if len(buf) == 0 {
		return codec.Reply{}, 0, codec.PartOK, nil
	}
	line, lineLen, ok := readLine(buf)
	if !ok {
		return codec.Reply{}, 0, codec.PartOK, nil
	}
	if len(line) == 0 {
		return codec.Reply{}, 0, codec.FrameErr, fmt.Errorf("%w: empty reply line", codec.ErrFatal)
	}

	prefix := line[0]
	body := string(line[1:])

	switch prefix {
	case '+':
		return codec.Reply{Kind: codec.KindSimple, Str: body}, lineLen, codec.FrameOK, nil
	case '-':
		return codec.Reply{Kind: codec.KindError, Err: body}, lineLen, codec.FrameOK, nil
	case ':':
		n, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return codec.Reply{}, 0, codec.FrameErr, fmt.Errorf("%w: bad integer %q", codec.ErrFatal, body)
		}
		return codec.Reply{Kind: codec.KindInteger, Int: n}, lineLen, codec.FrameOK, nil
	case '$':
		size, err := strconv.Atoi(body)
		if err != nil {
			return codec.Reply{}, 0, codec.FrameErr, fmt.Errorf("%w: bad bulk length %q", codec.ErrFatal, body)
		}
		if size < 0 {
			return codec.Reply{Kind: codec.KindBulk, Nil: true}, lineLen, codec.FrameOK, nil
		}
		total := lineLen + size + 2
		if len(buf) < total {
			return codec.Reply{}, 0, codec.PartOK, nil
		}
		payload := buf[lineLen : lineLen+size]
		if buf[lineLen+size] != '\r' || buf[lineLen+size+1] != '\n' {
			return codec.Reply{}, 0, codec.FrameErr, fmt.Errorf("%w: bulk string missing CRLF terminator", codec.ErrFatal)
		}
		return codec.Reply{Kind: codec.KindBulk, Str: string(payload)}, total, codec.FrameOK, nil
	case '*':
		count, err := strconv.Atoi(body)
		if err != nil {
			return codec.Reply{}, 0, codec.FrameErr, fmt.Errorf("%w: bad array length %q", codec.ErrFatal, body)
		}
		if count < 0 {
			return codec.Reply{Kind: codec.KindArray, Nil: true}, lineLen, codec.FrameOK, nil
		}
		offset := lineLen
		elems := make([]codec.Reply, 0, count)
		for i := 0; i < count; i++ {
			elem, n, status, err := decodeOne(buf[offset:])
			if err != nil {
				return codec.Reply{}, 0, codec.FrameErr, err
			}
			if status == codec.PartOK {
				return codec.Reply{}, 0, codec.PartOK, nil
			}
			elems = append(elems, elem)
			offset += n
		}
		return codec.Reply{Kind: codec.KindArray, Array: elems}, offset, codec.FrameOK, nil
	default:
		return codec.Reply{}, 0, codec.FrameErr, fmt.Errorf("%w: unknown reply prefix %q", codec.ErrFatal, prefix)
	}
}

// readLine finds the first CRLF-terminated line in buf and returns the
// line contents (without the terminator), its length including the
// terminator, and whether a full line was found.
func readLine(buf []byte) ([]byte, int, bool) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 || idx == 0 || buf[idx-1] != '\r' {
		return nil, 0, false
	}
	return buf[:idx-1], idx + 1, true
}

// Encode renders a request as a RESP array of bulk strings. The Seq and
// KeyIndex fields on msg are correlation bookkeeping only and are never
// serialized onto the wire.
func (Codec) Encode(msg codec.Message) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "*%d\r\n", len(msg.Args))
	for _, arg := range msg.Args {
		fmt.Fprintf(&buf, "$%d\r\n%s\r\n", len(arg), arg)
	}
	return buf.Bytes(), nil
}

// EncodeReply renders a decoded reply back onto the wire, the direction
// Decode does not cover: a downstream channel speaks replies to the
// client, not requests.
func EncodeReply(r codec.Reply) []byte {
	var buf bytes.Buffer
	writeReply(&buf, r)
	return buf.Bytes()
}

func writeReply(buf *bytes.Buffer, r codec.Reply) {
	switch r.Kind {
	case codec.KindSimple:
		fmt.Fprintf(buf, "+%s\r\n", r.Str)
	case codec.KindError:
		fmt.Fprintf(buf, "-%s\r\n", r.Err)
	case codec.KindInteger:
		fmt.Fprintf(buf, ":%d\r\n", r.Int)
	case codec.KindBulk:
		if r.Nil {
			buf.WriteString("$-1\r\n")
			return
		}
		fmt.Fprintf(buf, "$%d\r\n%s\r\n", len(r.Str), r.Str)
	case codec.KindArray:
		if r.Nil {
			buf.WriteString("*-1\r\n")
			return
		}
		fmt.Fprintf(buf, "*%d\r\n", len(r.Array))
		for _, elem := range r.Array {
			writeReply(buf, elem)
		}
	}
}
