package mcap

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ReadResult is the decoded content of the data section of an MCAP
// file: every schema and channel seen, and every message in file
// order (messages inside a chunk are expanded in their on-disk order;
// chunks themselves appear in the order the writer flushed them).
type ReadResult struct {
	Schemas  map[uint16]Schema
	Channels map[uint16]ChannelInfo
	Messages []Message
	Metadata []MetadataRecord
}

// MetadataRecord is one decoded metadata record, produced by Reader.
type MetadataRecord struct {
	Name string
	Data map[string]string
}

// Read decodes the data section of an MCAP stream produced by Writer.
// It stops at the first DataEnd record; the summary section (repeated
// schemas/channels, indexes, statistics) is not needed to recover the
// messages themselves and is ignored.
func Read(r io.Reader) (*ReadResult, error) {
	magic := make([]byte, 8)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("mcap: read magic: %w", err)
	}
	if !bytes.Equal(magic, Magic[:]) {
		return nil, fmt.Errorf("mcap: bad magic number")
	}

	result := &ReadResult{
		Schemas:  make(map[uint16]Schema),
		Channels: make(map[uint16]ChannelInfo),
	}

	for {
		op, content, err := readRecord(r)
		if err == io.EOF {
			return nil, fmt.Errorf("mcap: truncated stream: missing DataEnd")
		}
		if err != nil {
			return nil, err
		}
		switch op {
		case OpHeader:
			// profile/library, not needed by the sink round-trip.
		case OpSchema:
			s, id, err := decodeSchema(content)
			if err != nil {
				return nil, err
			}
			result.Schemas[id] = s
		case OpChannel:
			ch, err := decodeChannel(content)
			if err != nil {
				return nil, err
			}
			result.Channels[ch.ID] = ch
		case OpMessage:
			m, err := decodeMessage(content)
			if err != nil {
				return nil, err
			}
			result.Messages = append(result.Messages, m)
		case OpChunk:
			if err := readChunk(content, result); err != nil {
				return nil, err
			}
		case OpMetadata:
			m, err := decodeMetadata(content)
			if err != nil {
				return nil, err
			}
			result.Metadata = append(result.Metadata, m)
		case OpMessageIndex, OpChunkIndex, OpStatistics, OpSummaryOffset,
			OpMetadataIndex, OpAttachmentIdx, OpAttachment:
			// summary/index records, irrelevant to message recovery. This
			// writer never emits attachment records, but a reader must
			// still tolerate them from other MCAP producers.
		case OpDataEnd:
			return result, nil
		case OpFooter:
			return result, nil
		default:
			return nil, fmt.Errorf("mcap: unknown opcode 0x%02x", op)
		}
	}
}

func readRecord(r io.Reader) (Opcode, []byte, error) {
	header := make([]byte, 9)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	length := uint64(0)
	for i := 7; i >= 0; i-- {
		length = length<<8 | uint64(header[1+i])
	}
	content := make([]byte, length)
	if _, err := io.ReadFull(r, content); err != nil {
		return 0, nil, fmt.Errorf("mcap: read record content: %w", err)
	}
	return Opcode(header[0]), content, nil
}

func decodeSchema(content []byte) (Schema, uint16, error) {
	r := &byteReader{buf: content}
	id, err := r.u16()
	if err != nil {
		return Schema{}, 0, err
	}
	name, err := r.str()
	if err != nil {
		return Schema{}, 0, err
	}
	encoding, err := r.str()
	if err != nil {
		return Schema{}, 0, err
	}
	data, err := r.bytes()
	if err != nil {
		return Schema{}, 0, err
	}
	return Schema{Name: name, Encoding: encoding, Data: data}, id, nil
}

func decodeChannel(content []byte) (ChannelInfo, error) {
	r := &byteReader{buf: content}
	id, err := r.u16()
	if err != nil {
		return ChannelInfo{}, err
	}
	schemaID, err := r.u16()
	if err != nil {
		return ChannelInfo{}, err
	}
	topic, err := r.str()
	if err != nil {
		return ChannelInfo{}, err
	}
	encoding, err := r.str()
	if err != nil {
		return ChannelInfo{}, err
	}
	md, err := r.stringMap()
	if err != nil {
		return ChannelInfo{}, err
	}
	return ChannelInfo{ID: id, SchemaID: schemaID, Topic: topic, MessageEncoding: encoding, Metadata: md}, nil
}

func decodeMetadata(content []byte) (MetadataRecord, error) {
	r := &byteReader{buf: content}
	name, err := r.str()
	if err != nil {
		return MetadataRecord{}, err
	}
	data, err := r.stringMap()
	if err != nil {
		return MetadataRecord{}, err
	}
	return MetadataRecord{Name: name, Data: data}, nil
}

func decodeMessage(content []byte) (Message, error) {
	r := &byteReader{buf: content}
	chID, err := r.u16()
	if err != nil {
		return Message{}, err
	}
	seq, err := r.u32()
	if err != nil {
		return Message{}, err
	}
	logTime, err := r.u64()
	if err != nil {
		return Message{}, err
	}
	pubTime, err := r.u64()
	if err != nil {
		return Message{}, err
	}
	data := r.rawBytes()
	return Message{ChannelID: chID, Sequence: seq, LogTime: logTime, PublishTime: pubTime, Data: data}, nil
}

func readChunk(content []byte, result *ReadResult) error {
	r := &byteReader{buf: content}
	if _, err := r.u64(); err != nil { // message_start_time
		return err
	}
	if _, err := r.u64(); err != nil { // message_end_time
		return err
	}
	if _, err := r.u64(); err != nil { // uncompressed_size
		return err
	}
	if _, err := r.u32(); err != nil { // uncompressed_crc
		return err
	}
	compression, err := r.str()
	if err != nil {
		return err
	}
	compressed, err := r.bytes()
	if err != nil {
		return err
	}

	uncompressed, err := decompress(compression, compressed)
	if err != nil {
		return fmt.Errorf("mcap: decompress chunk: %w", err)
	}

	inner := bytes.NewReader(uncompressed)
	for inner.Len() > 0 {
		op, recContent, err := readRecord(inner)
		if err != nil {
			return fmt.Errorf("mcap: read chunk record: %w", err)
		}
		switch op {
		case OpMessage:
			m, err := decodeMessage(recContent)
			if err != nil {
				return err
			}
			result.Messages = append(result.Messages, m)
		case OpSchema:
			s, id, err := decodeSchema(recContent)
			if err != nil {
				return err
			}
			result.Schemas[id] = s
		case OpChannel:
			ch, err := decodeChannel(recContent)
			if err != nil {
				return err
			}
			result.Channels[ch.ID] = ch
		default:
			return fmt.Errorf("mcap: unexpected record 0x%02x inside chunk", op)
		}
	}
	return nil
}

func decompress(name string, data []byte) ([]byte, error) {
	switch name {
	case "":
		return data, nil
	case "zstd":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	case "lz4":
		zr := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("mcap: unknown compression %q", name)
	}
}
