package decoder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ctagard/trace-mcp/pkg/types"
)

// wordReader consumes a local's word sequence front to back.
type wordReader struct {
	words []common.Hash
	pos   int
}

func (r *wordReader) next() (common.Hash, bool) {
	if r.pos >= len(r.words) {
		return common.Hash{}, false
	}
	w := r.words[r.pos]
	r.pos++
	return w, true
}

// bytes reads n bytes of left-aligned data. It reports false when the
// sequence ends before all n bytes are available.
func (r *wordReader) bytes(n int) ([]byte, bool) {
	data := make([]byte, 0, n)
	for len(data) < n {
		w, ok := r.next()
		if !ok {
			return data, false
		}
		take := n - len(data)
		if take > common.HashLength {
			take = common.HashLength
		}
		data = append(data, w[:take]...)
	}
	return data, true
}

// skip passes over a value of type t. A type without a fixed size consumes
// the rest of the sequence, since its extent cannot be known.
func (r *wordReader) skip(t Type) {
	if n, ok := t.fixedWords(); ok {
		r.pos = min(r.pos+n, len(r.words))
		return
	}
	r.pos = len(r.words)
}

// DecodeLocal decodes a local variable from its words at a step. written is
// false when nothing has been stored for the variable yet, in which case
// the result is the zero value flagged NotYetInitialized.
func (d *Decoder) DecodeLocal(desc types.VariableDescriptor, words []common.Hash, written bool) (types.DecodedValue, error) {
	t, err := ParseType(desc.Type, desc.Members)
	if err != nil {
		return types.DecodedValue{}, err
	}
	if !written {
		return d.uninitialized(t, "no value has been written for this variable yet"), nil
	}
	return d.decodeLocal(t, &wordReader{words: words}), nil
}

func (d *Decoder) decodeLocal(t Type, r *wordReader) types.DecodedValue {
	switch t.Kind {
	case KindMapping:
		return mappingPlaceholder(t)

	case KindBytes, KindString:
		n, note := d.readLength(r)
		if note != "" {
			return d.uninitialized(t, note)
		}
		data, complete := r.bytes(n)
		v := byteValue(t, data)
		if !complete {
			v.Length = intPtr(n)
			v.NotYetInitialized = true
			v.Note = fmt.Sprintf("only %d of %d bytes written", len(data), n)
		}
		return v

	case KindArray:
		n := t.Length
		if t.IsDynamicArray() {
			var note string
			if n, note = d.readLength(r); note != "" {
				return d.uninitialized(t, note)
			}
			if total := satMul(n, t.Elem.Count()); total > d.maxDynamicLength {
				r.pos = len(r.words)
				return d.uninitialized(t, fmt.Sprintf("%d elements hold %d values, more than the limit of %d", n, total, d.maxDynamicLength))
			}
		} else if d.tooLarge(t) {
			r.skip(t)
			return d.oversized(t)
		}
		v := types.DecodedValue{Type: t.Name}
		if t.IsDynamicArray() {
			v.Length = intPtr(n)
		}
		elems := make([]types.DecodedValue, n)
		for i := range elems {
			elems[i] = d.decodeLocal(*t.Elem, r)
			if elems[i].NotYetInitialized {
				v.NotYetInitialized = true
			}
		}
		v.Value = elems
		return v

	case KindStruct:
		v := types.DecodedValue{Type: t.Name}
		fields := make(map[string]types.DecodedValue, len(t.Fields))
		for _, f := range t.Fields {
			fv := d.decodeLocal(f.Type, r)
			if fv.NotYetInitialized {
				v.NotYetInitialized = true
			}
			fields[f.Name] = fv
		}
		v.Value = fields
		return v

	default:
		w, ok := r.next()
		if !ok {
			return d.uninitialized(t, "value word not written yet")
		}
		return types.DecodedValue{Type: t.Name, Value: decodeWord(t, w)}
	}
}

// readLength reads a length word. A non-empty note means the length is
// missing or implausible, which happens while a variable is still being
// built.
func (d *Decoder) readLength(r *wordReader) (int, string) {
	w, ok := r.next()
	if !ok {
		return 0, "length word not written yet"
	}
	n := new(uint256.Int).SetBytes32(w[:])
	if !n.IsUint64() || n.Uint64() > uint64(d.maxDynamicLength) {
		return 0, fmt.Sprintf("length %s exceeds the limit of %d", n.Dec(), d.maxDynamicLength)
	}
	return int(n.Uint64()), ""
}
