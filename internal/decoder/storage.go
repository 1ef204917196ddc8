package decoder

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/ctagard/trace-mcp/internal/errors"
	"github.com/ctagard/trace-mcp/pkg/types"
)

// SlotReader reads one storage word. ok is false for a slot that has not
// been written as of the snapshot; such a slot reads as zero.
type SlotReader interface {
	Lookup(slot common.Hash) (word common.Hash, ok bool)
}

// maxSlotSpan bounds the storage footprint of a static type so that slot
// offsets stay within int range.
const maxSlotSpan = 1 << 48

// DecodeState decodes a state variable from a storage snapshot.
func (d *Decoder) DecodeState(desc types.VariableDescriptor, st SlotReader) (types.DecodedValue, error) {
	t, err := ParseType(desc.Type, desc.Members)
	if err != nil {
		return types.DecodedValue{}, err
	}
	slot, err := ParseSlot(desc.Slot)
	if err != nil {
		return types.DecodedValue{}, err
	}
	if desc.Offset < 0 || desc.Offset >= common.HashLength {
		return types.DecodedValue{}, errors.InvalidParameter("offset", desc.Offset, "a byte offset between 0 and 31")
	}
	if desc.Offset > 0 && (!t.IsValue() || desc.Offset+t.ByteSize() > common.HashLength) {
		return types.DecodedValue{}, errors.InvalidParameter("offset", desc.Offset,
			fmt.Sprintf("a %s does not fit in a slot at byte offset %d", t.Name, desc.Offset))
	}
	return d.decodeStorage(t, slot, desc.Offset, st), nil
}

func unwritten(slot *uint256.Int) string {
	return fmt.Sprintf("slot %s has not been written yet", slot.Hex())
}

// ParseSlot parses a hex ("0x...") or decimal slot number.
func ParseSlot(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.MissingParameter("slot", "State variables need a storage slot, for example \"0x0\".")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := strings.TrimLeft(s[2:], "0")
		if digits == "" {
			return new(uint256.Int), nil
		}
		v, err := uint256.FromHex("0x" + digits)
		if err != nil {
			return nil, errors.InvalidParameter("slot", s, "a 256-bit hex or decimal slot number")
		}
		return v, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errors.InvalidParameter("slot", s, "a 256-bit hex or decimal slot number")
	}
	return v, nil
}

func slotKey(slot *uint256.Int) common.Hash {
	return common.Hash(slot.Bytes32())
}

// dataSlot is where the out-of-line data of the value at slot begins.
func dataSlot(slot *uint256.Int) *uint256.Int {
	key := slotKey(slot)
	h := crypto.Keccak256Hash(key[:])
	return new(uint256.Int).SetBytes32(h[:])
}

func addSlot(base *uint256.Int, n int) *uint256.Int {
	return new(uint256.Int).AddUint64(base, uint64(n))
}

// unpack extracts a packed value type at offset and returns it in the same
// word form locals use: numbers right-aligned, bytesN left-aligned.
func unpack(t Type, w common.Hash, offset int) common.Hash {
	size := t.ByteSize()
	segment := w[common.HashLength-offset-size : common.HashLength-offset]
	var out common.Hash
	if t.Kind == KindFixedBytes {
		copy(out[:], segment)
	} else {
		copy(out[common.HashLength-size:], segment)
	}
	return out
}

func (d *Decoder) decodeStorage(t Type, slot *uint256.Int, offset int, st SlotReader) types.DecodedValue {
	switch t.Kind {
	case KindMapping:
		return mappingPlaceholder(t)

	case KindBytes, KindString:
		return d.decodeStorageBytes(t, slot, st)

	case KindArray:
		n := t.Length
		base := slot
		var v types.DecodedValue
		if t.IsDynamicArray() {
			w, ok := st.Lookup(slotKey(slot))
			if !ok {
				return d.uninitialized(t, unwritten(slot))
			}
			length := new(uint256.Int).SetBytes32(w[:])
			if !length.IsUint64() || length.Uint64() > uint64(d.maxDynamicLength) {
				return d.uninitialized(t, fmt.Sprintf("length %s exceeds the limit of %d", length.Dec(), d.maxDynamicLength))
			}
			n = int(length.Uint64())
			if total := satMul(n, t.Elem.Count()); total > d.maxDynamicLength {
				return d.uninitialized(t, fmt.Sprintf("%d elements hold %d values, more than the limit of %d", n, total, d.maxDynamicLength))
			}
			base = dataSlot(slot)
			v.Length = intPtr(n)
		} else if d.tooLarge(t) {
			return d.oversized(t)
		}
		v.Type = t.Name
		elems := d.decodeSequence(*t.Elem, base, n, st)
		for _, e := range elems {
			if e.NotYetInitialized {
				v.NotYetInitialized = true
			}
		}
		v.Value = elems
		return v

	case KindStruct:
		v := types.DecodedValue{Type: t.Name}
		layout, _ := structLayout(t)
		fields := make(map[string]types.DecodedValue, len(t.Fields))
		for i, f := range t.Fields {
			fv := d.decodeStorage(f.Type, addSlot(slot, layout[i].slot), layout[i].offset, st)
			if fv.NotYetInitialized {
				v.NotYetInitialized = true
			}
			fields[f.Name] = fv
		}
		v.Value = fields
		return v

	default:
		w, ok := st.Lookup(slotKey(slot))
		if !ok {
			return d.uninitialized(t, unwritten(slot))
		}
		return types.DecodedValue{Type: t.Name, Value: decodeWord(t, unpack(t, w, offset))}
	}
}

// decodeStorageBytes handles both encodings: short values (< 32 bytes) live
// in the slot itself with length*2 in the lowest byte; long values store
// length*2+1 in the slot and their data from keccak(slot).
func (d *Decoder) decodeStorageBytes(t Type, slot *uint256.Int, st SlotReader) types.DecodedValue {
	w, ok := st.Lookup(slotKey(slot))
	if !ok {
		return d.uninitialized(t, unwritten(slot))
	}
	if w[31]&1 == 0 {
		n := int(w[31] / 2)
		if n >= common.HashLength {
			return d.uninitialized(t, fmt.Sprintf("short encoding declares %d bytes", n))
		}
		return byteValue(t, w[:n])
	}

	length := new(uint256.Int).SetBytes32(w[:])
	length.Rsh(length, 1)
	if !length.IsUint64() || length.Uint64() > uint64(d.maxDynamicLength) {
		return d.uninitialized(t, fmt.Sprintf("length %s exceeds the limit of %d", length.Dec(), d.maxDynamicLength))
	}
	n := int(length.Uint64())
	base := dataSlot(slot)
	data := make([]byte, 0, n)
	missing := 0
	for i := 0; len(data) < n; i++ {
		word, ok := st.Lookup(slotKey(addSlot(base, i)))
		if !ok {
			missing++
		}
		take := n - len(data)
		if take > common.HashLength {
			take = common.HashLength
		}
		data = append(data, word[:take]...)
	}
	v := byteValue(t, data)
	if missing > 0 {
		v.NotYetInitialized = true
		v.Note = fmt.Sprintf("%d of %d data slots not written yet", missing, (n+common.HashLength-1)/common.HashLength)
	}
	return v
}

// decodeSequence decodes n consecutive elements starting at base. Value
// types share slots when they fit; everything else starts on a fresh slot.
func (d *Decoder) decodeSequence(elem Type, base *uint256.Int, n int, st SlotReader) []types.DecodedValue {
	out := make([]types.DecodedValue, n)
	if elem.IsValue() {
		size := elem.ByteSize()
		perSlot := common.HashLength / size
		for i := range out {
			out[i] = d.decodeStorage(elem, addSlot(base, i/perSlot), (i%perSlot)*size, st)
		}
		return out
	}
	span := slotSpan(elem)
	for i := range out {
		out[i] = d.decodeStorage(elem, addSlot(base, i*span), 0, st)
	}
	return out
}

type position struct {
	slot   int
	offset int
}

// structLayout places each field relative to the struct's first slot and
// returns the number of slots the struct occupies.
func structLayout(t Type) ([]position, int) {
	layout := make([]position, len(t.Fields))
	slot, offset := 0, 0
	for i, f := range t.Fields {
		if f.Type.IsValue() {
			size := f.Type.ByteSize()
			if offset+size > common.HashLength {
				slot++
				offset = 0
			}
			layout[i] = position{slot: slot, offset: offset}
			offset += size
			continue
		}
		if offset > 0 {
			slot++
			offset = 0
		}
		layout[i] = position{slot: slot}
		slot += slotSpan(f.Type)
	}
	if offset > 0 {
		slot++
	}
	return layout, slot
}

// slotSpan is the number of whole slots a value of type t occupies in place.
func slotSpan(t Type) int {
	switch {
	case t.Kind == KindStruct:
		_, n := structLayout(t)
		return n
	case t.Kind == KindArray && !t.IsDynamicArray():
		if t.Elem.IsValue() {
			perSlot := common.HashLength / t.Elem.ByteSize()
			return (t.Length-1)/perSlot + 1
		}
		return t.Length * slotSpan(*t.Elem)
	default:
		return 1
	}
}

// arraySpanFits reports whether the static array t occupies at most
// maxSlotSpan slots. Its element type has already been checked.
func arraySpanFits(t Type) bool {
	if t.Elem.IsValue() {
		perSlot := uint64(common.HashLength / t.Elem.ByteSize())
		return (uint64(t.Length)-1)/perSlot+1 <= maxSlotSpan
	}
	hi, lo := bits.Mul64(uint64(t.Length), uint64(slotSpan(*t.Elem)))
	return hi == 0 && lo <= maxSlotSpan
}
