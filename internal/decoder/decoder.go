// Package decoder turns raw trace words into typed values.
//
// Locals are decoded from the word sequence the engine holds for a variable
// at a step: value types take one word, bytes and string take a length word
// followed by left-aligned data words, dynamic arrays take a length word
// followed by their elements, and static arrays and structs are laid out
// member after member.
//
// State variables are decoded from contract storage following the Solidity
// storage layout rules, including packing of small value types, short and
// long byte strings and keccak-addressed array data.
package decoder

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/ctagard/trace-mcp/pkg/types"
)

// DefaultMaxDynamicLength bounds the element or byte count of a dynamic value
// and the number of values in a static array.
const DefaultMaxDynamicLength = 4096

const mappingNote = "mapping entries cannot be enumerated from storage"

// Decoder decodes locals and state variables.
type Decoder struct {
	maxDynamicLength int
}

// New returns a decoder that refuses dynamic lengths, and static arrays
// holding more values, above maxDynamicLength.
// A non-positive limit selects DefaultMaxDynamicLength.
func New(maxDynamicLength int) *Decoder {
	if maxDynamicLength <= 0 {
		maxDynamicLength = DefaultMaxDynamicLength
	}
	return &Decoder{maxDynamicLength: maxDynamicLength}
}

// MaxDynamicLength returns the configured length bound.
func (d *Decoder) MaxDynamicLength() int {
	return d.maxDynamicLength
}

// decodeWord formats a single word holding a value type. Integers are
// decimal strings so that 256-bit values survive JSON.
func decodeWord(t Type, w common.Hash) any {
	switch t.Kind {
	case KindBool:
		return w[31] != 0
	case KindAddress:
		return common.BytesToAddress(w[12:]).Hex()
	case KindFixedBytes:
		return hexutil.Encode(w[:t.Size])
	case KindInt:
		v := new(uint256.Int).SetBytes32(w[:])
		if t.Bits < 256 {
			if t.Signed {
				v.ExtendSign(v, uint256.NewInt(uint64(t.Bits/8-1)))
			} else {
				mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(t.Bits))
				v.And(v, mask.SubUint64(mask, 1))
			}
		}
		if t.Signed && v.Sign() < 0 {
			return "-" + new(uint256.Int).Neg(v).Dec()
		}
		return v.Dec()
	}
	return nil
}

// zeroValue is the value a variable of type t holds before anything is written.
func (d *Decoder) zeroValue(t Type) types.DecodedValue {
	v := types.DecodedValue{Type: t.Name}
	switch t.Kind {
	case KindBytes:
		v.Value = "0x"
		v.Length = intPtr(0)
	case KindString:
		v.Value = ""
		v.Length = intPtr(0)
	case KindArray:
		if t.IsDynamicArray() {
			v.Value = []types.DecodedValue{}
			v.Length = intPtr(0)
			break
		}
		if d.tooLarge(t) {
			return d.oversized(t)
		}
		elems := make([]types.DecodedValue, t.Length)
		for i := range elems {
			elems[i] = d.zeroValue(*t.Elem)
		}
		v.Value = elems
	case KindStruct:
		fields := make(map[string]types.DecodedValue, len(t.Fields))
		for _, f := range t.Fields {
			fields[f.Name] = d.zeroValue(f.Type)
		}
		v.Value = fields
	case KindMapping:
		v.Note = mappingNote
	default:
		v.Value = decodeWord(t, common.Hash{})
	}
	return v
}

// uninitialized is the zero value flagged NotYetInitialized. A note already
// set on the zero value (mapping, oversized array) is kept.
func (d *Decoder) uninitialized(t Type, note string) types.DecodedValue {
	v := d.zeroValue(t)
	v.NotYetInitialized = true
	if v.Note == "" {
		v.Note = note
	}
	return v
}

// tooLarge reports whether the static array t holds more values than the
// decoder will materialize.
func (d *Decoder) tooLarge(t Type) bool {
	return t.Kind == KindArray && !t.IsDynamicArray() && t.Count() > d.maxDynamicLength
}

// oversized stands in for a static array that tooLarge rejects. Its
// elements are not decoded.
func (d *Decoder) oversized(t Type) types.DecodedValue {
	return types.DecodedValue{
		Type:              t.Name,
		Length:            intPtr(t.Length),
		NotYetInitialized: true,
		Note:              fmt.Sprintf("array holds %d values, more than the limit of %d", t.Count(), d.maxDynamicLength),
	}
}

func mappingPlaceholder(t Type) types.DecodedValue {
	return types.DecodedValue{Type: t.Name, Note: mappingNote}
}

// byteValue renders bytes as hex and string as text.
func byteValue(t Type, data []byte) types.DecodedValue {
	v := types.DecodedValue{Type: t.Name, Length: intPtr(len(data))}
	if t.Kind == KindString {
		v.Value = strings.ToValidUTF8(string(data), "�")
	} else {
		v.Value = hexutil.Encode(data)
	}
	return v
}

func intPtr(n int) *int {
	return &n
}
