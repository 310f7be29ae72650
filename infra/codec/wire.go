package codec

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

func appendUvarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSvarint(b []byte, num protowire.Number, v int64) []byte {
	return appendUvarint(b, num, protowire.EncodeZigZag(v))
}

func appendFixed32(b []byte, num protowire.Number, v uint32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func appendPacked(b []byte, num protowire.Number, vs []int64) []byte {
	if len(vs) == 0 {
		return b
	}
	var body []byte
	for _, v := range vs {
		body = protowire.AppendVarint(body, protowire.EncodeZigZag(v))
	}
	return appendMessage(b, num, body)
}

// walk calls fn for every field in b. fn returns the number of value bytes
// it consumed, or a negative value when the field is malformed.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		b = b[n:]

		m := fn(num, typ, b)
		if m < 0 {
			return errors.Wrapf(ErrMalformed, "field %d", num)
		}
		b = b[m:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, b []byte) int {
	return protowire.ConsumeFieldValue(num, typ, b)
}

func consumeUvarint(typ protowire.Type, b []byte, dst *uint64) int {
	if typ != protowire.VarintType {
		return -1
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func consumeSvarint(typ protowire.Type, b []byte, dst *int64) int {
	var v uint64
	n := consumeUvarint(typ, b, &v)
	if n >= 0 {
		*dst = protowire.DecodeZigZag(v)
	}
	return n
}

func consumeFixed32(typ protowire.Type, b []byte, dst *uint32) int {
	if typ != protowire.Fixed32Type {
		return -1
	}
	v, n := protowire.ConsumeFixed32(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) int {
	if typ != protowire.BytesType {
		return -1
	}
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func consumeString(typ protowire.Type, b []byte, dst *string) int {
	var v []byte
	n := consumeBytes(typ, b, &v)
	if n >= 0 {
		*dst = string(v)
	}
	return n
}

func consumePacked(typ protowire.Type, b []byte, dst *[]int64) int {
	var body []byte
	n := consumeBytes(typ, b, &body)
	if n < 0 {
		return n
	}
	for len(body) > 0 {
		v, m := protowire.ConsumeVarint(body)
		if m < 0 {
			return -1
		}
		*dst = append(*dst, protowire.DecodeZigZag(v))
		body = body[m:]
	}
	return n
}
