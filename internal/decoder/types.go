package decoder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ctagard/trace-mcp/internal/errors"
	"github.com/ctagard/trace-mcp/pkg/types"
)

// Kind enumerates the decodable type families.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindAddress
	KindBool
	KindFixedBytes
	KindBytes
	KindString
	KindArray
	KindStruct
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindAddress:
		return "address"
	case KindBool:
		return "bool"
	case KindFixedBytes:
		return "fixedBytes"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	case KindMapping:
		return "mapping"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Type is a parsed variable type. Which fields are meaningful depends on Kind:
// Bits/Signed for KindInt, Size for KindFixedBytes, Elem/Length for KindArray
// (Length < 0 means dynamic) and Fields for KindStruct.
type Type struct {
	Kind   Kind
	Name   string
	Bits   int
	Signed bool
	Size   int
	Elem   *Type
	Length int
	Fields []Field
}

// Field is a named struct member.
type Field struct {
	Name string
	Type Type
}

// IsDynamicArray reports whether t is a T[] array.
func (t Type) IsDynamicArray() bool {
	return t.Kind == KindArray && t.Length < 0
}

// IsValue reports whether t fits in a single word.
func (t Type) IsValue() bool {
	switch t.Kind {
	case KindInt, KindAddress, KindBool, KindFixedBytes:
		return true
	}
	return false
}

// ByteSize is the packed storage width of a value type; 32 otherwise.
func (t Type) ByteSize() int {
	switch t.Kind {
	case KindInt:
		return t.Bits / 8
	case KindAddress:
		return 20
	case KindBool:
		return 1
	case KindFixedBytes:
		return t.Size
	}
	return 32
}

// countCap saturates Count and fixedWords; anything that large is over any limit.
const countCap = 1 << 29

func satMul(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	if a > countCap/b {
		return countCap
	}
	return min(a*b, countCap)
}

// Count is the number of values a decoded t holds. Dynamic members count
// once, since their own length is bounded when they are read.
func (t Type) Count() int {
	switch t.Kind {
	case KindArray:
		if t.IsDynamicArray() {
			return 1
		}
		return satMul(t.Length, t.Elem.Count())
	case KindStruct:
		n := 0
		for _, f := range t.Fields {
			n = min(n+f.Type.Count(), countCap)
		}
		return max(n, 1)
	}
	return 1
}

// fixedWords is the number of words a local of type t takes. ok is false
// when t contains a dynamic member and so has no fixed size.
func (t Type) fixedWords() (n int, ok bool) {
	switch t.Kind {
	case KindMapping:
		return 0, true
	case KindBytes, KindString:
		return 0, false
	case KindArray:
		if t.IsDynamicArray() {
			return 0, false
		}
		n, ok = t.Elem.fixedWords()
		return satMul(t.Length, n), ok
	case KindStruct:
		for _, f := range t.Fields {
			fn, fok := f.Type.fixedWords()
			if !fok {
				return 0, false
			}
			n = min(n+fn, countCap)
		}
		return n, true
	}
	return 1, true
}

var locationSuffixes = []string{" memory", " storage", " calldata", " pointer", " ref"}

// ParseType parses a type string. Struct types take their fields from members.
func ParseType(name string, members []types.Member) (Type, error) {
	raw := name
	name = strings.TrimSpace(name)
	for changed := true; changed; {
		changed = false
		for _, suffix := range locationSuffixes {
			if strings.HasSuffix(name, suffix) {
				name = strings.TrimSpace(strings.TrimSuffix(name, suffix))
				changed = true
			}
		}
	}
	if name == "" {
		return Type{}, errors.InvalidType(raw, "empty type")
	}

	if strings.HasSuffix(name, "]") {
		open := strings.LastIndex(name, "[")
		if open <= 0 {
			return Type{}, errors.InvalidType(raw, "unbalanced array brackets")
		}
		elem, err := ParseType(name[:open], members)
		if err != nil {
			return Type{}, err
		}
		length := -1
		if inner := name[open+1 : len(name)-1]; inner != "" {
			n, err := strconv.Atoi(inner)
			if err != nil || n <= 0 {
				return Type{}, errors.InvalidType(raw, fmt.Sprintf("bad array length %q", inner))
			}
			length = n
		}
		arr := Type{Kind: KindArray, Name: elem.Name + name[open:], Elem: &elem, Length: length}
		if !arr.IsDynamicArray() && !arraySpanFits(arr) {
			return Type{}, errors.InvalidType(raw, "array occupies more storage slots than can be addressed")
		}
		return arr, nil
	}

	switch {
	case strings.HasPrefix(name, "mapping("):
		return Type{Kind: KindMapping, Name: name}, nil
	case strings.HasPrefix(name, "struct ") || len(members) > 0:
		return parseStruct(name, members)
	case strings.HasPrefix(name, "enum "):
		return Type{Kind: KindInt, Name: name, Bits: 8}, nil
	case strings.HasPrefix(name, "contract "), strings.HasPrefix(name, "interface "):
		return Type{Kind: KindAddress, Name: name}, nil
	}

	switch name {
	case "bool":
		return Type{Kind: KindBool, Name: name}, nil
	case "address", "address payable":
		return Type{Kind: KindAddress, Name: name}, nil
	case "string":
		return Type{Kind: KindString, Name: name}, nil
	case "bytes":
		return Type{Kind: KindBytes, Name: name}, nil
	case "uint", "int":
		return Type{Kind: KindInt, Name: name + "256", Bits: 256, Signed: name == "int"}, nil
	}

	if strings.HasPrefix(name, "bytes") {
		n, err := strconv.Atoi(strings.TrimPrefix(name, "bytes"))
		if err != nil || n < 1 || n > 32 {
			return Type{}, errors.InvalidType(raw, "fixed bytes width must be 1..32")
		}
		return Type{Kind: KindFixedBytes, Name: name, Size: n}, nil
	}

	for _, prefix := range []string{"uint", "int"} {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		bits, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
		if err != nil || bits < 8 || bits > 256 || bits%8 != 0 {
			return Type{}, errors.InvalidType(raw, "integer width must be a multiple of 8 in 8..256")
		}
		return Type{Kind: KindInt, Name: name, Bits: bits, Signed: prefix == "int"}, nil
	}

	return Type{}, errors.InvalidType(raw, "unknown type")
}

func parseStruct(name string, members []types.Member) (Type, error) {
	if len(members) == 0 {
		return Type{}, errors.InvalidType(name, "struct has no member declarations")
	}
	t := Type{Kind: KindStruct, Name: name, Fields: make([]Field, len(members))}
	for i, m := range members {
		ft, err := ParseType(m.Type, m.Members)
		if err != nil {
			return Type{}, err
		}
		t.Fields[i] = Field{Name: m.Name, Type: ft}
	}
	if _, n := structLayout(t); uint64(n) > maxSlotSpan {
		return Type{}, errors.InvalidType(name, "struct occupies more storage slots than can be addressed")
	}
	return t, nil
}
