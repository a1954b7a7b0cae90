// Package mcap is a minimal, from-scratch encoder/decoder for the MCAP
// container format (https://mcap.dev): a length-prefixed, opcode-tagged
// record stream bracketed by an 8-byte magic number, optionally
// chunked and compressed.
//
// No MCAP library appears anywhere in the retrieval corpus this module
// was built against, so this package is written directly against the
// wire-level description in the specification rather than imported;
// the compression codecs it delegates to (klauspost/compress/zstd,
// pierrec/lz4/v4) are real third-party dependencies already present in
// the corpus's dependency graph by way of other consumers of those
// codecs.
package mcap

import "errors"

// Magic is the 8-byte sequence opening and closing every MCAP file.
var Magic = [8]byte{0x89, 'M', 'C', 'A', 'P', 0x30, '\r', '\n'}

// Opcode tags each record in the stream.
type Opcode byte

const (
	OpHeader        Opcode = 0x01
	OpFooter        Opcode = 0x02
	OpSchema        Opcode = 0x03
	OpChannel       Opcode = 0x04
	OpMessage       Opcode = 0x05
	OpChunk         Opcode = 0x06
	OpMessageIndex  Opcode = 0x07
	OpChunkIndex    Opcode = 0x08
	OpAttachment    Opcode = 0x09
	OpAttachmentIdx Opcode = 0x0A
	OpStatistics    Opcode = 0x0B
	OpMetadata      Opcode = 0x0C
	OpMetadataIndex Opcode = 0x0D
	OpSummaryOffset Opcode = 0x0E
	OpDataEnd       Opcode = 0x0F
)

// Compression selects the codec used for chunk bodies.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return ""
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return ""
	}
}

// ErrClosed is returned by any write operation performed after Close.
var ErrClosed = errors.New("mcap: writer is closed")

// Schema mirrors fgcore.Schema's three fields without importing the
// root package, keeping this package freestanding.
type Schema struct {
	Name     string
	Encoding string
	Data     []byte
}

// Message is one decoded message record, produced by Reader.
type Message struct {
	ChannelID   uint16
	Sequence    uint32
	LogTime     uint64
	PublishTime uint64
	Data        []byte
}

// ChannelInfo is one decoded channel record, produced by Reader.
type ChannelInfo struct {
	ID              uint16
	SchemaID        uint16
	Topic           string
	MessageEncoding string
	Metadata        map[string]string
}
