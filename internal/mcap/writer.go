package mcap

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// WriteOptions mirrors the options a conformant MCAP writer exposes
// verbatim: chunk size, compression codec, chunking on/off, seeking
// support, which summary-section records to emit, and whether schemas
// and channels are repeated into the summary for seekless readers.
type WriteOptions struct {
	ChunkSize      int64 // 0 = unbounded = no chunking
	Compression    Compression
	UseChunks      bool
	DisableSeeking bool

	EmitStatistics      bool
	EmitSummaryOffsets  bool
	EmitMessageIndexes  bool
	EmitChunkIndexes    bool
	EmitMetadataIndexes bool

	RepeatChannels bool
	RepeatSchemas  bool

	Profile string
	Library string
}

// DefaultWriteOptions returns the options a typical producer uses:
// 4 MiB chunks, zstd compression, and a summary section with statistics,
// summary offsets, chunk and message indexes, and repeated schemas and
// channels. Metadata indexes are not emitted.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{
		ChunkSize:          4 << 20,
		Compression:        CompressionZstd,
		UseChunks:          true,
		EmitStatistics:     true,
		EmitSummaryOffsets: true,
		EmitMessageIndexes: true,
		EmitChunkIndexes:   true,
		RepeatChannels:     true,
		RepeatSchemas:      true,
		Library:            "fgcore",
	}
}

type schemaRecord struct {
	id       uint16
	name     string
	encoding string
	data     []byte
}

type channelRecord struct {
	id              uint16
	schemaID        uint16
	topic           string
	messageEncoding string
	metadata        map[string]string
}

type messageIndexEntry struct {
	logTime uint64
	offset  uint64
}

type metadataIndexEntry struct {
	offset uint64
	length uint64
	name   string
}

type chunkIndexEntry struct {
	messageStartTime uint64
	messageEndTime   uint64
	chunkStartOffset uint64
	chunkLength      uint64
	msgIdxOffsets    map[uint16]uint64
	msgIdxLength     uint64
	compression      Compression
	compressedSize   uint64
	uncompressedSize uint64
}

// Writer produces an MCAP file incrementally onto an underlying
// io.Writer. It is safe for concurrent use; every public method takes
// an internal mutex, mirroring the single-mutex discipline the sync
// MCAP sink above it relies on.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	offset uint64
	opts   WriteOptions
	closed bool

	schemasByKey map[string]uint16
	schemas      []schemaRecord
	nextSchemaID uint16

	channels      []channelRecord
	nextChannelID uint16

	// current open chunk, when UseChunks is true.
	chunkBuf         bytes.Buffer
	chunkStartOffset uint64
	chunkMsgStart    uint64
	chunkMsgEnd      uint64
	chunkMsgIndexes  map[uint16][]messageIndexEntry
	chunkIndexes     []chunkIndexEntry

	// statistics accumulator.
	messageCount        uint64
	chunkCount          uint32
	messageStartTime    uint64
	messageEndTime      uint64
	channelMessageCount map[uint16]uint64

	metadataIndexes []metadataIndexEntry
}

// NewWriter writes the magic number and Header record and returns a
// Writer ready to accept schemas, channels and messages.
func NewWriter(w io.Writer, opts WriteOptions) (*Writer, error) {
	mw := &Writer{
		w:                   w,
		opts:                opts,
		schemasByKey:        make(map[string]uint16),
		nextSchemaID:        1,
		nextChannelID:       0,
		chunkMsgIndexes:     make(map[uint16][]messageIndexEntry),
		channelMessageCount: make(map[uint16]uint64),
	}
	if _, err := w.Write(Magic[:]); err != nil {
		return nil, fmt.Errorf("mcap: write magic: %w", err)
	}
	mw.offset += uint64(len(Magic))

	body := &byteWriter{}
	body.str(opts.Profile)
	body.str(opts.Library)
	if err := mw.writeRecord(OpHeader, body.buf); err != nil {
		return nil, err
	}
	return mw, nil
}

func (w *Writer) writeRecord(op Opcode, content []byte) error {
	header := make([]byte, 9)
	header[0] = byte(op)
	putU64(header[1:], uint64(len(content)))
	n1, err := w.w.Write(header)
	if err != nil {
		return err
	}
	n2, err := w.w.Write(content)
	if err != nil {
		return err
	}
	w.offset += uint64(n1 + n2)
	return nil
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// AddSchema interns a schema by content and returns its id. Identical
// (encoding, name, data) tuples collapse to the same id, matching the
// schema-deduplication behavior described for the registry's Schema
// type. A nil schema is represented by id 0 and never written.
func (w *Writer) AddSchema(s *Schema) (uint16, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	if s == nil {
		return 0, nil
	}
	key := s.Encoding + "\x00" + s.Name + "\x00" + string(s.Data)
	if id, ok := w.schemasByKey[key]; ok {
		return id, nil
	}
	id := w.nextSchemaID
	w.nextSchemaID++
	rec := schemaRecord{id: id, name: s.Name, encoding: s.Encoding, data: s.Data}
	w.schemasByKey[key] = id
	w.schemas = append(w.schemas, rec)

	body := &byteWriter{}
	body.u16(rec.id)
	body.str(rec.name)
	body.str(rec.encoding)
	body.bytes(rec.data)
	if err := w.writeRecord(OpSchema, body.buf); err != nil {
		return 0, err
	}
	return id, nil
}

// AddChannel registers a new channel record (always a fresh id; the
// sync MCAP sink is responsible for deciding whether two context
// channels should share one) and writes it immediately.
func (w *Writer) AddChannel(schemaID uint16, topic, messageEncoding string, metadata map[string]string) (uint16, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	id := w.nextChannelID
	w.nextChannelID++
	rec := channelRecord{id: id, schemaID: schemaID, topic: topic, messageEncoding: messageEncoding, metadata: metadata}
	w.channels = append(w.channels, rec)

	body := &byteWriter{}
	body.u16(rec.id)
	body.u16(rec.schemaID)
	body.str(rec.topic)
	body.str(rec.messageEncoding)
	body.stringMap(rec.metadata)
	if err := w.writeRecord(OpChannel, body.buf); err != nil {
		return 0, err
	}
	return id, nil
}

// WriteMetadata writes a named key-value record to the data section,
// outside of any chunk — metadata records are operator-triggered,
// out-of-band annotations, not hot-path telemetry, so they are never
// chunked or compressed. Two records with the same name are both
// written; MCAP metadata names are not required to be unique.
func (w *Writer) WriteMetadata(name string, data map[string]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	body := &byteWriter{}
	body.str(name)
	body.stringMap(data)

	start := w.offset
	if err := w.writeRecord(OpMetadata, body.buf); err != nil {
		return err
	}
	w.metadataIndexes = append(w.metadataIndexes, metadataIndexEntry{
		offset: start,
		length: w.offset - start,
		name:   name,
	})
	return nil
}

// WriteMessage appends one message record, either directly to the
// stream or into the currently open chunk, depending on UseChunks.
func (w *Writer) WriteMessage(channelID uint16, sequence uint32, logTime, publishTime uint64, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	body := &byteWriter{}
	body.u16(channelID)
	body.u32(sequence)
	body.u64(logTime)
	body.u64(publishTime)
	body.rawBytes(data)

	w.recordStats(channelID, logTime)

	if !w.opts.UseChunks {
		return w.writeRecord(OpMessage, body.buf)
	}
	return w.appendToChunk(channelID, logTime, body.buf)
}

func (w *Writer) recordStats(channelID uint16, logTime uint64) {
	w.messageCount++
	w.channelMessageCount[channelID]++
	if w.messageStartTime == 0 || logTime < w.messageStartTime {
		w.messageStartTime = logTime
	}
	if logTime > w.messageEndTime {
		w.messageEndTime = logTime
	}
}

func (w *Writer) appendToChunk(channelID uint16, logTime uint64, messageRecord []byte) error {
	if w.chunkBuf.Len() == 0 {
		w.chunkStartOffset = w.offset
		w.chunkMsgStart = logTime
	}
	recHeader := make([]byte, 9)
	recHeader[0] = byte(OpMessage)
	putU64(recHeader[1:], uint64(len(messageRecord)))

	offsetWithinChunk := uint64(w.chunkBuf.Len())
	w.chunkBuf.Write(recHeader)
	w.chunkBuf.Write(messageRecord)

	w.chunkMsgIndexes[channelID] = append(w.chunkMsgIndexes[channelID], messageIndexEntry{logTime: logTime, offset: offsetWithinChunk})
	if logTime > w.chunkMsgEnd {
		w.chunkMsgEnd = logTime
	}

	if w.opts.ChunkSize > 0 && int64(w.chunkBuf.Len()) >= w.opts.ChunkSize {
		return w.flushChunk()
	}
	return nil
}

func (w *Writer) flushChunk() error {
	if w.chunkBuf.Len() == 0 {
		return nil
	}
	uncompressed := w.chunkBuf.Bytes()
	compressed, err := compress(w.opts.Compression, uncompressed)
	if err != nil {
		return fmt.Errorf("mcap: compress chunk: %w", err)
	}

	body := &byteWriter{}
	body.u64(w.chunkMsgStart)
	body.u64(w.chunkMsgEnd)
	body.u64(uint64(len(uncompressed)))
	body.u32(0) // uncompressed_crc: unset, matching the writer's "crc not computed" convention
	body.str(w.opts.Compression.String())
	body.bytes(compressed)

	chunkStart := w.offset
	if err := w.writeRecord(OpChunk, body.buf); err != nil {
		return err
	}
	chunkLength := w.offset - chunkStart

	msgIdxOffsets := make(map[uint16]uint64)
	msgIdxStart := w.offset
	if w.opts.EmitMessageIndexes {
		for chID, entries := range w.chunkMsgIndexes {
			msgIdxOffsets[chID] = w.offset
			mib := &byteWriter{}
			mib.u16(chID)
			inner := &byteWriter{}
			for _, e := range entries {
				inner.u64(e.logTime)
				inner.u64(e.offset)
			}
			mib.bytes(inner.buf)
			if err := w.writeRecord(OpMessageIndex, mib.buf); err != nil {
				return err
			}
		}
	}
	msgIdxLen := w.offset - msgIdxStart

	w.chunkIndexes = append(w.chunkIndexes, chunkIndexEntry{
		messageStartTime: w.chunkMsgStart,
		messageEndTime:   w.chunkMsgEnd,
		chunkStartOffset: chunkStart,
		chunkLength:      chunkLength,
		msgIdxOffsets:    msgIdxOffsets,
		msgIdxLength:     msgIdxLen,
		compression:      w.opts.Compression,
		compressedSize:   uint64(len(compressed)),
		uncompressedSize: uint64(len(uncompressed)),
	})
	w.chunkCount++

	w.chunkBuf.Reset()
	w.chunkMsgIndexes = make(map[uint16][]messageIndexEntry)
	w.chunkMsgStart, w.chunkMsgEnd = 0, 0
	return nil
}

func compress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("mcap: unknown compression %d", c)
	}
}

// Close flushes any open chunk, writes the statistics, summary and
// footer records, and the closing magic number. It is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if w.opts.UseChunks {
		if err := w.flushChunk(); err != nil {
			return err
		}
	}

	dataEndBody := &byteWriter{}
	dataEndBody.u32(0) // data_section_crc: unset
	if err := w.writeRecord(OpDataEnd, dataEndBody.buf); err != nil {
		return err
	}

	summaryStart := w.offset

	groupStart := w.offset
	if w.opts.RepeatSchemas {
		for _, s := range w.schemas {
			body := &byteWriter{}
			body.u16(s.id)
			body.str(s.name)
			body.str(s.encoding)
			body.bytes(s.data)
			if err := w.writeRecord(OpSchema, body.buf); err != nil {
				return err
			}
		}
	}
	schemaGroupLen := w.offset - groupStart
	if w.opts.EmitSummaryOffsets && schemaGroupLen > 0 {
		if err := w.writeSummaryOffset(OpSchema, groupStart, schemaGroupLen); err != nil {
			return err
		}
	}

	groupStart = w.offset
	if w.opts.RepeatChannels {
		for _, ch := range w.channels {
			body := &byteWriter{}
			body.u16(ch.id)
			body.u16(ch.schemaID)
			body.str(ch.topic)
			body.str(ch.messageEncoding)
			body.stringMap(ch.metadata)
			if err := w.writeRecord(OpChannel, body.buf); err != nil {
				return err
			}
		}
	}
	channelGroupLen := w.offset - groupStart
	if w.opts.EmitSummaryOffsets && channelGroupLen > 0 {
		if err := w.writeSummaryOffset(OpChannel, groupStart, channelGroupLen); err != nil {
			return err
		}
	}

	groupStart = w.offset
	if w.opts.EmitChunkIndexes {
		for _, ci := range w.chunkIndexes {
			body := &byteWriter{}
			body.u64(ci.messageStartTime)
			body.u64(ci.messageEndTime)
			body.u64(ci.chunkStartOffset)
			body.u64(ci.chunkLength)
			inner := &byteWriter{}
			for chID, off := range ci.msgIdxOffsets {
				inner.u16(chID)
				inner.u64(off)
			}
			body.bytes(inner.buf)
			body.u64(ci.msgIdxLength)
			body.str(ci.compression.String())
			body.u64(ci.compressedSize)
			body.u64(ci.uncompressedSize)
			if err := w.writeRecord(OpChunkIndex, body.buf); err != nil {
				return err
			}
		}
	}
	chunkIdxGroupLen := w.offset - groupStart
	if w.opts.EmitSummaryOffsets && chunkIdxGroupLen > 0 {
		if err := w.writeSummaryOffset(OpChunkIndex, groupStart, chunkIdxGroupLen); err != nil {
			return err
		}
	}

	groupStart = w.offset
	if w.opts.EmitMetadataIndexes {
		for _, mi := range w.metadataIndexes {
			body := &byteWriter{}
			body.u64(mi.offset)
			body.u64(mi.length)
			body.str(mi.name)
			if err := w.writeRecord(OpMetadataIndex, body.buf); err != nil {
				return err
			}
		}
	}
	metadataIdxGroupLen := w.offset - groupStart
	if w.opts.EmitSummaryOffsets && metadataIdxGroupLen > 0 {
		if err := w.writeSummaryOffset(OpMetadataIndex, groupStart, metadataIdxGroupLen); err != nil {
			return err
		}
	}

	if w.opts.EmitStatistics {
		statsStart := w.offset
		body := &byteWriter{}
		body.u64(w.messageCount)
		body.u16(uint16(len(w.schemas)))
		body.u32(uint32(len(w.channels)))
		body.u32(0) // attachment_count: this writer never emits attachment records
		body.u32(uint32(len(w.metadataIndexes)))
		body.u32(w.chunkCount)
		body.u64(w.messageStartTime)
		body.u64(w.messageEndTime)
		inner := &byteWriter{}
		for chID, count := range w.channelMessageCount {
			inner.u16(chID)
			inner.u64(count)
		}
		body.bytes(inner.buf)
		if err := w.writeRecord(OpStatistics, body.buf); err != nil {
			return err
		}
		if w.opts.EmitSummaryOffsets {
			if err := w.writeSummaryOffset(OpStatistics, statsStart, w.offset-statsStart); err != nil {
				return err
			}
		}
	}
	summaryOffsetStart := w.offset
	if !w.opts.EmitSummaryOffsets {
		summaryOffsetStart = 0
	}

	footer := &byteWriter{}
	footer.u64(summaryStart)
	footer.u64(summaryOffsetStart)
	footer.u32(0) // summary_crc: unset
	if err := w.writeRecord(OpFooter, footer.buf); err != nil {
		return err
	}

	if _, err := w.w.Write(Magic[:]); err != nil {
		return err
	}
	w.offset += uint64(len(Magic))
	return nil
}

func (w *Writer) writeSummaryOffset(group Opcode, start, length uint64) error {
	body := &byteWriter{}
	body.u8(byte(group))
	body.u64(start)
	body.u64(length)
	return w.writeRecord(OpSummaryOffset, body.buf)
}
