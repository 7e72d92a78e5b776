// Package compression encodes slot payloads for storage at rest.
//
// Encoded payloads carry an Encoding tag next to them so a store can hold a
// mix of raw and compressed rows and readers never guess.
package compression

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Encoding tags how a stored payload was encoded.
type Encoding uint8

const (
	EncodingRaw Encoding = iota
	EncodingZstd
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingZstd:
		return "zstd"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// minCompressSize is the payload size below which compression is skipped.
const minCompressSize = 128

// Codec compresses payloads with zstd. A disabled Codec stores payloads raw
// but can still decode zstd rows written earlier.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	enabled bool
}

// NewCodec creates a codec. Level 1 is fastest, 3 compresses best; other
// values select the zstd default.
func NewCodec(level int, enabled bool) (*Codec, error) {
	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	c := &Codec{decoder: decoder, enabled: enabled}
	if !enabled {
		return c, nil
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		decoder.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	c.encoder = encoder
	return c, nil
}

// Encode returns the stored form of data and its encoding. Payloads that are
// small or do not shrink are stored raw.
func (c *Codec) Encode(data []byte) ([]byte, Encoding) {
	if !c.enabled || len(data) < minCompressSize {
		return data, EncodingRaw
	}

	compressed := c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
	if len(compressed) >= len(data) {
		return data, EncodingRaw
	}
	return compressed, EncodingZstd
}

// Decode reverses Encode.
func (c *Codec) Decode(data []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingRaw:
		return data, nil
	case EncodingZstd:
		out, err := c.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown payload encoding %d", uint8(enc))
	}
}

// Close releases encoder and decoder resources.
func (c *Codec) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}
