package ledger

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const MaxPermittedDataLength = 10 * 1024 * 1024

const (
	systemInstrCreateAccount = 0
	systemInstrTransfer      = 2

	systemComputeUnits = 150
)

// SystemProgram is the builtin that creates accounts and moves lamports. Only
// the CreateAccount and Transfer instructions are supported.
type SystemProgram struct{}

func (SystemProgram) ProgramID() solana.PublicKey { return solana.SystemProgramID }

func (p SystemProgram) Process(ictx *InvokeContext, accounts []*AccountInfo, data []byte) error {
	if err := ictx.Consume(systemComputeUnits); err != nil {
		return err
	}
	dec := bin.NewBinDecoder(data)
	kind, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return fmt.Errorf("%w: system instruction tag", ErrInvalidInstructionData)
	}
	switch kind {
	case systemInstrCreateAccount:
		if len(data) != 4+8+8+32 {
			return fmt.Errorf("%w: create account payload", ErrInvalidInstructionData)
		}
		lamports, _ := dec.ReadUint64(bin.LE)
		space, _ := dec.ReadUint64(bin.LE)
		owner, _ := dec.ReadBytes(solana.PublicKeyLength)
		return p.createAccount(ictx, accounts, lamports, space, solana.PublicKeyFromBytes(owner))
	case systemInstrTransfer:
		if len(data) != 4+8 {
			return fmt.Errorf("%w: transfer payload", ErrInvalidInstructionData)
		}
		lamports, _ := dec.ReadUint64(bin.LE)
		return p.transfer(accounts, lamports)
	default:
		return fmt.Errorf("%w: unsupported system instruction %d", ErrInvalidInstructionData, kind)
	}
}

func (SystemProgram) createAccount(ictx *InvokeContext, accounts []*AccountInfo, lamports, space uint64, owner solana.PublicKey) error {
	if len(accounts) < 2 {
		return ErrNotEnoughAccountKeys
	}
	from, to := accounts[0], accounts[1]
	if !from.IsSigner || !to.IsSigner {
		return fmt.Errorf("%w: create account", ErrMissingRequiredSignature)
	}
	if to.Lamports() != 0 || len(to.Data()) != 0 || !to.Owner().Equals(solana.SystemProgramID) {
		return fmt.Errorf("%w: %s", ErrAccountAlreadyInUse, to.Key)
	}
	if space > MaxPermittedDataLength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidAccountDataLength, space)
	}
	if lamports < ictx.Rent().MinimumBalance(space) {
		return fmt.Errorf("%w: %s", ErrAccountNotRentExempt, to.Key)
	}
	if err := from.CheckedSubLamports(lamports); err != nil {
		return err
	}
	if err := to.CheckedAddLamports(lamports); err != nil {
		return err
	}
	to.allocate(space)
	to.assign(owner)
	return nil
}

func (SystemProgram) transfer(accounts []*AccountInfo, lamports uint64) error {
	if len(accounts) < 2 {
		return ErrNotEnoughAccountKeys
	}
	from, to := accounts[0], accounts[1]
	if !from.IsSigner {
		return fmt.Errorf("%w: transfer source %s", ErrMissingRequiredSignature, from.Key)
	}
	if len(from.Data()) != 0 {
		return fmt.Errorf("%w: transfer source %s carries data", ErrInvalidArgument, from.Key)
	}
	if err := from.CheckedSubLamports(lamports); err != nil {
		return err
	}
	return to.CheckedAddLamports(lamports)
}
