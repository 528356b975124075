package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
)

const DefaultLamportsPerSignature = uint64(5_000)

var NativeLoaderID = solana.MustPublicKeyFromBase58("NativeLoader1111111111111111111111111111111")

// Processor is a program hosted by the bank.
type Processor interface {
	ProgramID() solana.PublicKey
	Process(ictx *InvokeContext, accounts []*AccountInfo, data []byte) error
}

// Receipt describes an executed transaction. It is returned for failed
// transactions too, so callers can inspect the program logs.
type Receipt struct {
	Signature            solana.Signature
	Slot                 uint64
	Fee                  uint64
	ComputeUnitsConsumed uint64
	Logs                 []string
	ReturnProgram        solana.PublicKey
	ReturnData           []byte
}

type Option func(*Bank)

func WithRent(rent Rent) Option {
	return func(b *Bank) { b.rent = rent }
}

func WithLamportsPerSignature(lamports uint64) Option {
	return func(b *Bank) { b.lamportsPerSignature = lamports }
}

// Bank executes signed transactions against a Store. Transactions are
// serialized; each one commits all of its writable accounts or nothing
// beyond the fee.
type Bank struct {
	mu     sync.Mutex
	store  Store
	logger *slog.Logger

	processors           map[solana.PublicKey]Processor
	rent                 Rent
	lamportsPerSignature uint64
	slot                 atomic.Uint64
}

func NewBank(store Store, logger *slog.Logger, opts ...Option) (*Bank, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bank{
		store:                store,
		logger:               logger,
		processors:           make(map[solana.PublicKey]Processor),
		rent:                 DefaultRent,
		lamportsPerSignature: DefaultLamportsPerSignature,
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, builtin := range []Processor{SystemProgram{}, TokenProgram{}} {
		if err := b.Register(builtin); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Register installs a program and marks its account executable.
func (b *Bank) Register(p Processor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := p.ProgramID()
	b.processors[id] = p
	err := b.store.Apply(map[solana.PublicKey]*Account{
		id: {Lamports: 1, Owner: NativeLoaderID, Executable: true},
	})
	if err != nil {
		return fmt.Errorf("register program %s: %w", id, err)
	}
	return nil
}

func (b *Bank) Rent() Rent { return b.rent }

func (b *Bank) GetAccount(key solana.PublicKey) (*Account, error) {
	return b.store.Get(key)
}

// SetAccount overwrites an account outside of any transaction. It is meant for
// genesis state and fixtures.
func (b *Bank) SetAccount(key solana.PublicKey, acct *Account) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store.Apply(map[solana.PublicKey]*Account{key: acct})
}

// Execute builds, signs and processes a transaction paid for by payer.
func (b *Bank) Execute(ctx context.Context, payer solana.PrivateKey, instructions []solana.Instruction, signers ...solana.PrivateKey) (*Receipt, error) {
	tx, err := solana.NewTransaction(instructions, b.nextBlockhash(), solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	keys := make(map[solana.PublicKey]solana.PrivateKey, len(signers)+1)
	keys[payer.PublicKey()] = payer
	for _, signer := range signers {
		keys[signer.PublicKey()] = signer
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if pk, ok := keys[key]; ok {
			return &pk
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return b.ProcessTransaction(ctx, tx)
}

func (b *Bank) ProcessTransaction(ctx context.Context, tx *solana.Transaction) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg := tx.Message
	keys := msg.AccountKeys
	numSigners := int(msg.Header.NumRequiredSignatures)
	if numSigners == 0 || len(tx.Signatures) != numSigners || len(keys) < numSigners {
		return nil, fmt.Errorf("%w: %d signatures for %d required signers", ErrMalformedTransaction, len(tx.Signatures), numSigners)
	}
	if err := tx.VerifySignatures(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	limit, err := computeUnitLimit(keys, msg.Instructions)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	working := make(map[solana.PublicKey]*Account, len(keys))
	for _, key := range keys {
		acct, err := b.store.Get(key)
		if err != nil {
			return nil, fmt.Errorf("load account %s: %w", key, err)
		}
		if acct == nil {
			acct = &Account{Owner: solana.SystemProgramID}
		}
		working[key] = acct
	}

	payer := keys[0]
	fee := b.lamportsPerSignature * uint64(numSigners)
	if working[payer].Lamports < fee {
		return nil, fmt.Errorf("%w: payer %s", ErrInsufficientFundsForFee, payer)
	}
	working[payer].Lamports -= fee
	payerAfterFee := working[payer].Clone()

	receipt := &Receipt{Signature: tx.Signatures[0], Slot: b.slot.Load(), Fee: fee}
	state := &txState{
		ctx:     ctx,
		bank:    b,
		meter:   NewComputeMeter(limit),
		working: working,
		receipt: receipt,
	}
	execErr := b.executeMessage(state, msg)
	receipt.ComputeUnitsConsumed = state.meter.Used()
	receipt.ReturnProgram = state.returnProgram
	receipt.ReturnData = state.returnData

	if execErr != nil {
		if err := b.store.Apply(map[solana.PublicKey]*Account{payer: purged(payerAfterFee)}); err != nil {
			return receipt, errors.Join(execErr, fmt.Errorf("charge fee: %w", err))
		}
		b.logger.Debug("transaction failed", "signature", receipt.Signature.String(), "error", execErr)
		return receipt, execErr
	}

	updates := make(map[solana.PublicKey]*Account)
	for i, key := range keys {
		if isWritableIndex(msg, i) {
			updates[key] = purged(working[key])
		}
	}
	if err := b.store.Apply(updates); err != nil {
		return receipt, fmt.Errorf("commit transaction %s: %w", receipt.Signature, err)
	}
	b.logger.Debug("transaction committed",
		"signature", receipt.Signature.String(),
		"compute_units", receipt.ComputeUnitsConsumed,
		"accounts", len(updates),
	)
	return receipt, nil
}

func (b *Bank) executeMessage(state *txState, msg solana.Message) error {
	keys := msg.AccountKeys
	for n, ci := range msg.Instructions {
		programID := keys[ci.ProgramIDIndex]
		if programID.Equals(ComputeBudgetProgramID) {
			continue
		}
		proc, ok := b.processors[programID]
		if !ok {
			return fmt.Errorf("instruction %d: %w: %s", n, ErrUnknownProgram, programID)
		}

		infos := make([]*AccountInfo, 0, len(ci.Accounts))
		for _, idx := range ci.Accounts {
			if int(idx) >= len(keys) {
				return fmt.Errorf("instruction %d: %w: account index %d", n, ErrMalformedTransaction, idx)
			}
			key := keys[idx]
			infos = append(infos, NewAccountInfo(key, int(idx) < int(msg.Header.NumRequiredSignatures), isWritableIndex(msg, int(idx)), state.working[key]))
		}

		ictx := &InvokeContext{tx: state, frame: newFrame(programID, infos)}
		state.returnProgram = solana.PublicKey{}
		state.returnData = nil
		if err := ictx.run(proc, []byte(ci.Data)); err != nil {
			return fmt.Errorf("instruction %d: %w", n, err)
		}
	}
	return nil
}

func (b *Bank) nextBlockhash() solana.Hash {
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], b.slot.Add(1))
	return solana.Hash(sha256.Sum256(seed[:]))
}

func isWritableIndex(msg solana.Message, i int) bool {
	h := msg.Header
	signers := int(h.NumRequiredSignatures)
	if i < signers {
		return i < signers-int(h.NumReadonlySignedAccounts)
	}
	return i < len(msg.AccountKeys)-int(h.NumReadonlyUnsignedAccounts)
}

func purged(acct *Account) *Account {
	if acct.Lamports == 0 {
		return nil
	}
	return acct
}
