// Package enginetest provides a deterministic trace fixture for tests.
//
// The fixture is a 500-step transaction: contract A runs steps [0,49] and
// [121,499] and calls contract B for steps [50,120]. Steps 10-14 map into a
// generated source file and steps 50-53 have no source at all.
package enginetest

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/ctagard/trace-mcp/internal/engine"
	"github.com/ctagard/trace-mcp/pkg/types"
)

const (
	TxHash      = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	OtherTxHash = "0x9a8b7c6d5e4f30211203f4e5d6c7b8a99a8b7c6d5e4f30211203f4e5d6c7b8a9"
	Length      = 500
)

var (
	ContractA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	ContractB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	Owner     = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

// TokenSource is the content of source file 0.
const TokenSource = "contract Token {\n" +
	"  uint256 total;\n" +
	"  function transfer() public {\n" +
	"    total += 1;\n" +
	"  }\n" +
	"}\n"

// Word encodes v as a 32-byte hex word.
func Word(v uint64) string {
	return common.Hash(new(uint256.Int).SetUint64(v).Bytes32()).Hex()
}

// NegWord encodes -v as a two's complement 32-byte hex word.
func NegWord(v uint64) string {
	n := new(uint256.Int).Neg(new(uint256.Int).SetUint64(v))
	return common.Hash(n.Bytes32()).Hex()
}

// LeftAligned pads s on the right to a 32-byte word.
func LeftAligned(s string) string {
	var h common.Hash
	copy(h[:], s)
	return h.Hex()
}

func location(i int) types.SourceLocation {
	switch {
	case i >= 10 && i <= 14:
		return types.SourceLocation{File: 1, Offset: i, Length: 3}
	case i >= 50 && i <= 53:
		return types.NoSource
	default:
		return types.SourceLocation{File: 0, Offset: (i % 4) * 17, Length: 10}
	}
}

func steps() []types.Step {
	out := make([]types.Step, Length)
	for i := range out {
		step := types.Step{
			Index:   i,
			PC:      uint64(i * 2),
			Op:      "PUSH1",
			Depth:   1,
			Gas:     uint64(1_000_000 - i*3),
			Address: ContractA.Hex(),
			Source:  location(i),
		}
		if i >= 50 && i <= 120 {
			step.Depth = 2
			step.Address = ContractB.Hex()
		}
		switch i {
		case 30:
			step.Op = "SSTORE"
		case 49:
			step.Op = "CALL"
		case 120:
			step.Op = "RETURN"
		case 499:
			step.Op = "STOP"
		}
		out[i] = step
	}
	return out
}

func scopes() []*types.RawScope {
	gas := uint64(21_000)
	callGas := uint64(5_400)
	line := 4
	return []*types.RawScope{{
		ScopeID:      "1",
		FunctionName: "execute",
		FirstStep:    0,
		LastStep:     Length - 1,
		GasCost:      &gas,
		Locals: map[string]types.LocalDescriptor{
			"a":     {ID: "v1", Name: "a", Type: "uint256", DeclaredAt: 0},
			"owner": {ID: "v2", Name: "owner", Type: "address", DeclaredAt: 5},
		},
		Children: []*types.RawScope{{
			ScopeID:      "2",
			FunctionName: "transfer",
			FirstStep:    50,
			LastStep:     120,
			GasCost:      &callGas,
			OpcodeInfo:   &types.OpcodeInfo{Op: "CALL", PC: 98},
			Locals: map[string]types.LocalDescriptor{
				"amount": {ID: "v3", Name: "amount", Type: "uint256", DeclaredAt: 50},
				"note":   {ID: "v4", Name: "note", Type: "string", DeclaredAt: 50},
				"ids":    {ID: "v5", Name: "ids", Type: "uint256[]", DeclaredAt: 56},
			},
			Children: []*types.RawScope{{
				ScopeID:   "3",
				FirstStep: 60,
				LastStep:  100,
				Locals: map[string]types.LocalDescriptor{
					"i": {ID: "v6", Name: "i", Type: "uint8", DeclaredAt: 61},
					"p": {ID: "v7", Name: "p", Type: "struct Point", DeclaredAt: 61, Members: []types.Member{
						{Name: "x", Type: "uint256"},
						{Name: "y", Type: "int256"},
					}},
				},
				Children: []*types.RawScope{{
					ScopeID:      "4",
					FunctionName: "_check",
					FirstStep:    70,
					LastStep:     80,
					Reverted:     &types.RevertInfo{Step: 80, Line: &line},
				}},
			}},
		}},
	}}
}

// Data returns a fresh copy of the fixture trace.
func Data() *engine.TraceData {
	arraySlot := crypto.Keccak256Hash(common.HexToHash(Word(1)).Bytes())
	next := new(uint256.Int).AddUint64(new(uint256.Int).SetBytes32(arraySlot[:]), 1)
	firstElem, secondElem := arraySlot.Hex(), common.Hash(next.Bytes32()).Hex()

	packed := "0x" + strings.Repeat("00", 11) + "01" + strings.TrimPrefix(strings.ToLower(Owner.Hex()), "0x")
	shortString := "0x" + fmt.Sprintf("%x", "hello") + strings.Repeat("00", 26) + "0a"
	pair := "0x" + strings.Repeat("00", 15) + "04" + strings.Repeat("00", 15) + "03"

	return &engine.TraceData{
		TransactionHash: TxHash,
		Steps:           steps(),
		Sources: []types.SourceFile{
			{Index: 0, Path: "contracts/Token.sol", Content: TokenSource},
			{Index: 1, Path: "#utility.yul", Content: "{ abi_decode_tuple() }", Generated: true},
		},
		Scopes: scopes(),
		Context: types.GlobalContext{
			Block: types.BlockContext{Number: 19_000_000, Timestamp: 1_700_000_000, Coinbase: "0x95222290dd7278aa3ddd389cc1e1d165cc4bafe5", GasLimit: 30_000_000, ChainID: 1},
			Msg:   types.MsgContext{Sender: Owner.Hex(), Value: "0", Data: "0xa9059cbb", Sig: "0xa9059cbb"},
			Tx:    types.TxContext{Origin: Owner.Hex(), GasPrice: "30000000000"},
		},
		Layouts: map[string][]types.VariableDescriptor{
			ContractA.Hex(): {
				{ID: "s1", Name: "total", Type: "uint256", Slot: Word(0)},
				{ID: "s2", Name: "owner", Type: "address", Slot: Word(1)},
				{ID: "s3", Name: "paused", Type: "bool", Slot: Word(1), Offset: 20},
			},
			ContractB.Hex(): {
				{ID: "s4", Name: "name", Type: "string", Slot: Word(0)},
				{ID: "s5", Name: "values", Type: "uint256[]", Slot: Word(1)},
				{ID: "s6", Name: "pair", Type: "struct Pair", Slot: Word(2), Members: []types.Member{
					{Name: "a", Type: "uint128"},
					{Name: "b", Type: "uint128"},
				}},
			},
		},
		Storage: map[string]map[string]string{
			ContractA.Hex(): {
				Word(0): Word(100),
				Word(1): packed,
			},
			ContractB.Hex(): {
				Word(0):    shortString,
				Word(1):    Word(2),
				firstElem:  Word(7),
				secondElem: Word(9),
				Word(2):    pair,
			},
		},
		StorageWrites: []types.StorageWrite{
			{Step: 30, Address: ContractA.Hex(), Slot: Word(0), Value: Word(200)},
		},
		Locals: []engine.LocalSample{
			{VariableID: "v1", FromStep: 3, Words: []string{Word(42)}},
			{VariableID: "v2", FromStep: 6, Words: []string{common.BytesToHash(Owner.Bytes()).Hex()}},
			{VariableID: "v3", FromStep: 52, Words: []string{Word(100)}},
			{VariableID: "v4", FromStep: 50, Words: []string{Word(0xffffffffffff)}},
			{VariableID: "v4", FromStep: 54, Words: []string{Word(5), LeftAligned("hello")}},
			{VariableID: "v5", FromStep: 57, Words: []string{Word(2), Word(10), Word(20)}},
			{VariableID: "v6", FromStep: 62, Words: []string{Word(5)}},
			{VariableID: "v7", FromStep: 63, Words: []string{Word(1), NegWord(2)}},
		},
	}
}

// Engine returns a memory engine with the fixture registered under TxHash
// and a copy of it registered under OtherTxHash.
func Engine() *engine.Memory {
	m := engine.NewMemory()
	if _, err := m.Register(Data()); err != nil {
		panic(err)
	}
	other := Data()
	other.TransactionHash = OtherTxHash
	if _, err := m.Register(other); err != nil {
		panic(err)
	}
	return m
}
