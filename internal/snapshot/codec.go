package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"incr/internal/fingerprint"

	"github.com/klauspost/compress/zstd"
)

const formatVersion = 1

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// document is the on-disk form of a snapshot.
type document struct {
	Version   int                                `json:"version"`
	Algorithm string                             `json:"algorithm"`
	Roots     []string                           `json:"roots"`
	Files     map[string]fingerprint.Fingerprint `json:"files"`
}

// codec turns snapshots into bytes and back, optionally zstd-compressed.
type codec struct {
	compress bool

	encoders sync.Pool
	decoders sync.Pool
}

func newCodec(compress bool) (*codec, error) {
	// Validate the options once so pool constructors cannot fail later.
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating test encoder: %w", err)
	}
	enc.Close()

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating test decoder: %w", err)
	}
	dec.Close()

	return &codec{
		compress: compress,
		encoders: sync.Pool{
			New: func() interface{} {
				enc, _ := zstd.NewWriter(nil,
					zstd.WithEncoderLevel(zstd.SpeedDefault),
					zstd.WithEncoderConcurrency(1),
				)
				return enc
			},
		},
		decoders: sync.Pool{
			New: func() interface{} {
				dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				return dec
			},
		},
	}, nil
}

func (c *codec) encode(s *Snapshot) ([]byte, error) {
	doc := document{
		Version:   formatVersion,
		Algorithm: s.algorithm,
		Roots:     s.roots,
		Files:     s.files,
	}
	if doc.Roots == nil {
		doc.Roots = []string{}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}

	if !c.compress {
		return data, nil
	}

	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)

	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *codec) decode(data []byte) (*Snapshot, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		dec := c.decoders.Get().(*zstd.Decoder)
		defer c.decoders.Put(dec)

		raw, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing snapshot: %w", err)
		}
		data = raw
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	if doc.Algorithm == "" {
		return nil, fmt.Errorf("snapshot has no hash algorithm")
	}

	return New(doc.Algorithm, doc.Roots, doc.Files), nil
}
