package flatten

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/meshula/primstack/internal/lod"
	"github.com/meshula/primstack/internal/value"
)

// Wire layout, big-endian throughout:
//
//	header   : magic "PSTB" | u16 version | u8 tier | u8 flags
//	         | u32 entityCount | u32 propCount | 16B buildID
//	propdir  : propCount x { u32 nameIdx | u8 kind | u8 slots | u16 pad }
//	records  : entityCount x { u32 idIdx | bitfield[ceil(propCount/8)]
//	         | slotsTotal x u64 }
//	strings  : u32 count | count x { u32 len | bytes }
//	blobs    : u32 count | count x { u32 len | bytes }
//	snapshot : u32 count | count x { u32 idIdx | u64 generation }
//
// The string pool is shared by property names, entity paths, string-kind
// slot values and snapshot paths, deduplicated in first-use order. Map and
// Relation slots hold blob indexes.

// FormatVersion is the table layout version this build reads and writes.
const FormatVersion uint16 = 1

var tableMagic = [4]byte{'P', 'S', 'T', 'B'}

// FormatVersionError reports a table whose magic or version this build
// does not speak. Readers fall back to live resolution.
type FormatVersionError struct {
	Magic string
	Got   uint16
	Want  uint16
}

func (e *FormatVersionError) Error() string {
	if e.Magic != "" {
		return fmt.Sprintf("unrecognized table magic %q", e.Magic)
	}
	return fmt.Sprintf("table format version %d, want %d", e.Got, e.Want)
}

func (e *FormatVersionError) Code() string { return "FORMAT_VERSION" }

// IsFormatVersion reports whether err is a FormatVersionError.
func IsFormatVersion(err error) bool {
	var target *FormatVersionError
	return errors.As(err, &target)
}

// EncodeTable writes the table to w in the versioned wire layout.
func EncodeTable(w io.Writer, t *Table) error {
	var pool []string
	poolIdx := make(map[string]uint32)
	intern := func(s string) uint32 {
		if idx, ok := poolIdx[s]; ok {
			return idx
		}
		idx := uint32(len(pool))
		pool = append(pool, s)
		poolIdx[s] = idx
		return idx
	}

	// Interning pass in wire reference order: property names, then per
	// record the path and string slots, then snapshot paths.
	nameIdx := make([]uint32, len(t.props))
	for i := range t.props {
		nameIdx[i] = intern(t.props[i].name)
	}
	idIdx := make([]uint32, len(t.records))
	wireSlots := make([][]uint64, len(t.records))
	for ri := range t.records {
		rec := &t.records[ri]
		idIdx[ri] = intern(string(rec.id))
		slots := make([]uint64, len(rec.slots))
		copy(slots, rec.slots)
		for pi := range t.props {
			p := &t.props[pi]
			if p.kind != value.KindString && p.kind != value.KindToken {
				continue
			}
			if rec.present[pi>>3]&(1<<(pi&7)) == 0 {
				continue
			}
			slots[p.offset] = uint64(intern(t.strings[rec.slots[p.offset]]))
		}
		wireSlots[ri] = slots
	}
	snapIdx := make([]uint32, len(t.snapshot))
	for i := range t.snapshot {
		snapIdx[i] = intern(string(t.snapshot[i].id))
	}

	buf := make([]byte, 0, 64+len(t.props)*8+len(t.records)*(8+t.slotsTotal()*8))
	buf = append(buf, tableMagic[:]...)
	buf = binary.BigEndian.AppendUint16(buf, FormatVersion)
	buf = append(buf, byte(t.tier), 0)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(t.records)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(t.props)))
	buf = append(buf, t.buildID[:]...)

	for i := range t.props {
		buf = binary.BigEndian.AppendUint32(buf, nameIdx[i])
		buf = append(buf, byte(t.props[i].kind), byte(t.props[i].slots), 0, 0)
	}

	bitLen := (len(t.props) + 7) / 8
	for ri := range t.records {
		buf = binary.BigEndian.AppendUint32(buf, idIdx[ri])
		buf = append(buf, t.records[ri].present[:bitLen]...)
		for _, s := range wireSlots[ri] {
			buf = binary.BigEndian.AppendUint64(buf, s)
		}
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(pool)))
	for _, s := range pool {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(t.blobs)))
	for _, b := range t.blobs {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
		buf = append(buf, b...)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(t.snapshot)))
	for i := range t.snapshot {
		buf = binary.BigEndian.AppendUint32(buf, snapIdx[i])
		buf = binary.BigEndian.AppendUint64(buf, t.snapshot[i].generation)
	}

	_, err := w.Write(buf)
	return err
}

// DecodeTable reads a table from r, validating structure as it goes. A
// magic or version mismatch returns FormatVersionError; other corruption
// returns a descriptive error.
func DecodeTable(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	if len(data) < 32 {
		return nil, fmt.Errorf("table truncated: %d byte header", len(data))
	}
	if string(data[0:4]) != string(tableMagic[:]) {
		return nil, &FormatVersionError{Magic: string(data[0:4]), Want: FormatVersion}
	}
	version := binary.BigEndian.Uint16(data[4:6])
	if version != FormatVersion {
		return nil, &FormatVersionError{Got: version, Want: FormatVersion}
	}

	t := &Table{tier: lod.Tier(data[6])}
	entityCount := binary.BigEndian.Uint32(data[8:12])
	propCount := binary.BigEndian.Uint32(data[12:16])
	copy(t.buildID[:], data[16:32])

	rd := &byteReader{data: data, off: 32}

	type rawProp struct {
		nameIdx uint32
		kind    value.Kind
		slots   int
	}
	rawProps := make([]rawProp, 0, propCount)
	offset := 0
	for i := uint32(0); i < propCount; i++ {
		nameIdx, err := rd.u32()
		if err != nil {
			return nil, err
		}
		kindByte, err := rd.u8()
		if err != nil {
			return nil, err
		}
		slotByte, err := rd.u8()
		if err != nil {
			return nil, err
		}
		if _, err := rd.bytes(2); err != nil {
			return nil, err
		}
		kind := value.Kind(kindByte)
		if kind == value.KindInvalid || kind > value.KindRelation {
			return nil, fmt.Errorf("propdir %d: unknown kind %d", i, kindByte)
		}
		if int(slotByte) != slotsFor(kind) {
			return nil, fmt.Errorf("propdir %d: %s declared %d slots", i, kind, slotByte)
		}
		rawProps = append(rawProps, rawProp{nameIdx: nameIdx, kind: kind, slots: int(slotByte)})
		offset += int(slotByte)
	}
	slotsTotal := offset

	bitLen := (int(propCount) + 7) / 8
	type rawRecord struct {
		idIdx   uint32
		present []byte
		slots   []uint64
	}
	rawRecords := make([]rawRecord, 0, entityCount)
	for i := uint32(0); i < entityCount; i++ {
		idIdx, err := rd.u32()
		if err != nil {
			return nil, err
		}
		present, err := rd.bytes(bitLen)
		if err != nil {
			return nil, err
		}
		slots := make([]uint64, slotsTotal)
		for j := range slots {
			slots[j], err = rd.u64()
			if err != nil {
				return nil, err
			}
		}
		rawRecords = append(rawRecords, rawRecord{
			idIdx:   idIdx,
			present: append([]byte(nil), present...),
			slots:   slots,
		})
	}

	poolCount, err := rd.u32()
	if err != nil {
		return nil, err
	}
	pool := make([]string, 0, min(int(poolCount), rd.remaining()/4+1))
	for i := uint32(0); i < poolCount; i++ {
		s, err := rd.str()
		if err != nil {
			return nil, err
		}
		pool = append(pool, s)
	}

	blobCount, err := rd.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < blobCount; i++ {
		n, err := rd.u32()
		if err != nil {
			return nil, err
		}
		raw, err := rd.bytes(int(n))
		if err != nil {
			return nil, err
		}
		raw = append([]byte(nil), raw...)
		br := &byteReader{data: raw}
		val, err := decodeBlobValue(br)
		if err != nil {
			return nil, fmt.Errorf("blob %d: %w", i, err)
		}
		if br.remaining() != 0 {
			return nil, fmt.Errorf("blob %d: %d trailing bytes", i, br.remaining())
		}
		t.blobs = append(t.blobs, raw)
		t.values = append(t.values, val)
	}

	snapCount, err := rd.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < snapCount; i++ {
		idIdx, err := rd.u32()
		if err != nil {
			return nil, err
		}
		gen, err := rd.u64()
		if err != nil {
			return nil, err
		}
		if int(idIdx) >= len(pool) {
			return nil, fmt.Errorf("snapshot %d: string index %d out of range", i, idIdx)
		}
		t.snapshot = append(t.snapshot, genEntry{id: value.Path(pool[idIdx]), generation: gen})
	}
	if rd.remaining() != 0 {
		return nil, fmt.Errorf("table has %d trailing bytes", rd.remaining())
	}

	// Assemble now that the pool is in hand.
	t.strings = pool
	offset = 0
	for i, rp := range rawProps {
		if int(rp.nameIdx) >= len(pool) {
			return nil, fmt.Errorf("propdir %d: string index %d out of range", i, rp.nameIdx)
		}
		t.props = append(t.props, propEntry{
			name:   pool[rp.nameIdx],
			kind:   rp.kind,
			slots:  rp.slots,
			offset: offset,
		})
		offset += rp.slots
	}
	for i, rr := range rawRecords {
		if int(rr.idIdx) >= len(pool) {
			return nil, fmt.Errorf("record %d: string index %d out of range", i, rr.idIdx)
		}
		rec := record{id: value.Path(pool[rr.idIdx]), present: rr.present, slots: rr.slots}
		for pi := range t.props {
			if rec.present[pi>>3]&(1<<(pi&7)) == 0 {
				continue
			}
			p := &t.props[pi]
			ref := rec.slots[p.offset]
			switch p.kind {
			case value.KindString, value.KindToken:
				if ref >= uint64(len(pool)) {
					return nil, fmt.Errorf("record %d %s: string index %d out of range", i, p.name, ref)
				}
			case value.KindMap, value.KindRelation:
				if ref >= uint64(len(t.values)) {
					return nil, fmt.Errorf("record %d %s: blob index %d out of range", i, p.name, ref)
				}
			}
		}
		t.records = append(t.records, rec)
	}
	t.finishIndexes()
	return t, nil
}

type byteReader struct {
	data []byte
	off  int
}

func (r *byteReader) remaining() int { return len(r.data) - r.off }

func (r *byteReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("table truncated at byte %d: %w", r.off, io.ErrUnexpectedEOF)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *byteReader) u8() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) u16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *byteReader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *byteReader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *byteReader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
