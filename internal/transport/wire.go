package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lokegustafsson/ambacore/pkg/collections"
	"github.com/lokegustafsson/ambacore/pkg/model"
)

// wireBufPool recycles the byte buffers backing outbound EDGE_BATCH
// payloads. Only the write path uses it: writeEdgeBatch fully hands the
// encoded bytes to writeFrame (which copies them into the connection)
// before reclaiming the backing array, so there is no aliasing hazard.
var wireBufPool = collections.NewSlicePool[byte](4096)

// messageKind identifies the payload following a frame's length prefix.
type messageKind uint8

const (
	kindEdgeBatch        messageKind = 1
	kindPrioritiseStates messageKind = 2
)

// Framing: a little-endian uint32 byte length, covering everything that
// follows (the one-byte kind tag plus the payload), then the kind tag,
// then the payload. The wire only needs to agree within one matched
// plugin/consumer build, so the choice of little-endian here is this
// implementation's fixed convention, not a negotiated one.
func writeFrame(w io.Writer, kind messageKind, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)+1))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(kind)}); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame blocks until a full frame is available on r, or returns an
// error (including io.EOF on a cleanly closed connection).
func readFrame(r io.Reader) (messageKind, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return 0, nil, fmt.Errorf("transport: zero-length frame")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return messageKind(body[0]), body[1:], nil
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putInt32(buf *bytes.Buffer, v int32) {
	putUint32(buf, uint32(v))
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putBytes(buf *bytes.Buffer, data []byte) {
	putUint32(buf, uint32(len(data)))
	buf.Write(data)
}

func putString(buf *bytes.Buffer, s string) {
	putBytes(buf, []byte(s))
}

func encodeNode(buf *bytes.Buffer, n model.Node) {
	buf.WriteByte(byte(n.Kind))
	putUint32(buf, uint32(n.InternalID))
	putInt32(buf, int32(n.HostID))
	putUint64(buf, n.GuestVA)
	putUint64(buf, n.Generation)
	putUint64(buf, n.ElfVAddr)
	putBytes(buf, n.Bytes)

	putUint32(buf, uint32(len(n.Inputs)))
	for _, in := range n.Inputs {
		putString(buf, in.Name)
	}
	putUint32(buf, uint32(len(n.Inputs)))
	for _, in := range n.Inputs {
		putInt32(buf, int32(len(in.Bytes)))
	}
	var concatenated bytes.Buffer
	for _, in := range n.Inputs {
		concatenated.Write(in.Bytes)
	}
	putBytes(buf, concatenated.Bytes())
}

func encodeEdges(buf *bytes.Buffer, edges []model.Edge) {
	putUint32(buf, uint32(len(edges)))
	for _, e := range edges {
		encodeNode(buf, e.From)
		encodeNode(buf, e.To)
	}
}

// encodeEdgeBatch serialises an EdgeBatch per the EDGE_BATCH wire grammar:
// state edges first, then block edges.
func encodeEdgeBatch(batch *model.EdgeBatch) []byte {
	var buf bytes.Buffer
	encodeEdges(&buf, batch.StateEdges)
	encodeEdges(&buf, batch.BlockEdges)
	return buf.Bytes()
}

// encodeEdgeBatchPooled behaves like encodeEdgeBatch but draws its backing
// array from wireBufPool. The caller must invoke release only after it is
// done with the returned slice.
func encodeEdgeBatchPooled(batch *model.EdgeBatch) (payload []byte, release func()) {
	bufPtr := wireBufPool.Get()
	buf := bytes.NewBuffer((*bufPtr)[:0])
	encodeEdges(buf, batch.StateEdges)
	encodeEdges(buf, batch.BlockEdges)
	out := buf.Bytes()
	return out, func() {
		*bufPtr = out[:0]
		wireBufPool.Put(bufPtr)
	}
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) remaining() int { return len(r.data) - r.pos }

func (r *byteReader) byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) uint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *byteReader) int32() (int32, error) {
	v, err := r.uint32()
	return int32(v), err
}

func (r *byteReader) uint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *byteReader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if r.remaining() < int(n) {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *byteReader) string() (string, error) {
	b, err := r.bytes()
	return string(b), err
}

func decodeNode(r *byteReader) (model.Node, error) {
	var n model.Node

	kindByte, err := r.byte()
	if err != nil {
		return n, err
	}
	n.Kind = model.NodeKind(kindByte)

	internalID, err := r.uint32()
	if err != nil {
		return n, err
	}
	n.InternalID = model.InternalStateId(internalID)

	hostID, err := r.int32()
	if err != nil {
		return n, err
	}
	n.HostID = model.HostStateId(hostID)

	if n.GuestVA, err = r.uint64(); err != nil {
		return n, err
	}
	if n.Generation, err = r.uint64(); err != nil {
		return n, err
	}
	if n.ElfVAddr, err = r.uint64(); err != nil {
		return n, err
	}
	if n.Bytes, err = r.bytes(); err != nil {
		return n, err
	}

	nameCount, err := r.uint32()
	if err != nil {
		return n, err
	}
	names := make([]string, nameCount)
	for i := range names {
		if names[i], err = r.string(); err != nil {
			return n, err
		}
	}

	countCount, err := r.uint32()
	if err != nil {
		return n, err
	}
	byteCounts := make([]int32, countCount)
	for i := range byteCounts {
		if byteCounts[i], err = r.int32(); err != nil {
			return n, err
		}
	}

	concatenated, err := r.bytes()
	if err != nil {
		return n, err
	}

	if len(names) != len(byteCounts) {
		return n, fmt.Errorf("transport: concrete_inputs name/count length mismatch: %d vs %d", len(names), len(byteCounts))
	}
	offset := 0
	n.Inputs = make([]model.SymbolicInput, len(names))
	for i, name := range names {
		count := int(byteCounts[i])
		if offset+count > len(concatenated) {
			return n, fmt.Errorf("transport: concrete_inputs byte count overruns payload")
		}
		n.Inputs[i] = model.SymbolicInput{Name: name, Bytes: concatenated[offset : offset+count]}
		offset += count
	}

	return n, nil
}

func decodeEdges(r *byteReader) ([]model.Edge, error) {
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}
	edges := make([]model.Edge, count)
	for i := range edges {
		from, err := decodeNode(r)
		if err != nil {
			return nil, err
		}
		to, err := decodeNode(r)
		if err != nil {
			return nil, err
		}
		edges[i] = model.Edge{From: from, To: to}
	}
	return edges, nil
}

func decodeEdgeBatch(payload []byte) (*model.EdgeBatch, error) {
	r := &byteReader{data: payload}
	stateEdges, err := decodeEdges(r)
	if err != nil {
		return nil, fmt.Errorf("transport: decoding state edges: %w", err)
	}
	blockEdges, err := decodeEdges(r)
	if err != nil {
		return nil, fmt.Errorf("transport: decoding block edges: %w", err)
	}
	return &model.EdgeBatch{StateEdges: stateEdges, BlockEdges: blockEdges}, nil
}

func encodePrioritiseRequest(req *model.PrioritiseRequest) []byte {
	var buf bytes.Buffer
	putUint32(&buf, uint32(len(req.HostIDs)))
	for _, id := range req.HostIDs {
		putInt32(&buf, int32(id))
	}
	return buf.Bytes()
}

func decodePrioritiseRequest(payload []byte) (*model.PrioritiseRequest, error) {
	r := &byteReader{data: payload}
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}
	ids := make([]model.HostStateId, count)
	for i := range ids {
		v, err := r.int32()
		if err != nil {
			return nil, err
		}
		ids[i] = model.HostStateId(v)
	}
	return &model.PrioritiseRequest{HostIDs: ids}, nil
}
