package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const (
	DefaultInstructionComputeUnits = uint64(200_000)
	MaxComputeUnitLimit            = uint64(1_400_000)
	InvokeComputeUnits             = uint64(1_000)

	computeBudgetSetComputeUnitLimit = 2
)

var ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// ComputeMeter is the per-transaction resource budget. Running out aborts the
// whole transaction.
type ComputeMeter struct {
	limit uint64
	used  uint64
}

func NewComputeMeter(limit uint64) *ComputeMeter {
	return &ComputeMeter{limit: limit}
}

func (m *ComputeMeter) Consume(units uint64) error {
	if units > m.Remaining() {
		m.used = m.limit
		return fmt.Errorf("%w: limit %d", ErrComputeBudgetExceeded, m.limit)
	}
	m.used += units
	return nil
}

func (m *ComputeMeter) Remaining() uint64 { return m.limit - m.used }
func (m *ComputeMeter) Used() uint64      { return m.used }

// Rent mirrors the host's storage-rent schedule.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  uint64
}

const accountStorageOverhead = 128

var DefaultRent = Rent{LamportsPerByteYear: 3480, ExemptionThreshold: 2}

// MinimumBalance is the rent-exempt reserve for an account holding dataLen bytes.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	return (accountStorageOverhead + dataLen) * r.LamportsPerByteYear * r.ExemptionThreshold
}

// computeUnitLimit scans the compute budget instructions of a compiled message.
// The last SetComputeUnitLimit wins.
func computeUnitLimit(keys solana.PublicKeySlice, instructions []solana.CompiledInstruction) (uint64, error) {
	requested := uint64(0)
	explicit := false
	programInstructions := uint64(0)
	for _, ci := range instructions {
		if int(ci.ProgramIDIndex) >= len(keys) {
			return 0, fmt.Errorf("%w: program index %d out of range", ErrMalformedTransaction, ci.ProgramIDIndex)
		}
		if !keys[ci.ProgramIDIndex].Equals(ComputeBudgetProgramID) {
			programInstructions++
			continue
		}
		data := []byte(ci.Data)
		if len(data) == 0 {
			return 0, fmt.Errorf("%w: empty compute budget instruction", ErrInvalidInstructionData)
		}
		if data[0] != computeBudgetSetComputeUnitLimit {
			continue
		}
		if len(data) != 5 {
			return 0, fmt.Errorf("%w: compute unit limit payload", ErrInvalidInstructionData)
		}
		requested = uint64(binary.LittleEndian.Uint32(data[1:5]))
		explicit = true
	}
	if !explicit {
		requested = DefaultInstructionComputeUnits * programInstructions
	}
	return min(requested, MaxComputeUnitLimit), nil
}
