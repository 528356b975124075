package ledger

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

const (
	tokenInstrTransfer = 3

	tokenComputeUnits = 2_000
)

// TokenProgram is the builtin fungible-token program. It understands the
// token account layout and the Transfer instruction; mints are not modelled.
type TokenProgram struct{}

func (TokenProgram) ProgramID() solana.PublicKey { return solana.TokenProgramID }

func (TokenProgram) Process(ictx *InvokeContext, accounts []*AccountInfo, data []byte) error {
	if err := ictx.Consume(tokenComputeUnits); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty token instruction", ErrInvalidInstructionData)
	}
	if data[0] != tokenInstrTransfer {
		return fmt.Errorf("%w: unsupported token instruction %d", ErrInvalidInstructionData, data[0])
	}
	if len(data) != 9 {
		return fmt.Errorf("%w: transfer payload", ErrInvalidInstructionData)
	}
	amount, err := bin.NewBinDecoder(data[1:]).ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("%w: transfer amount", ErrInvalidInstructionData)
	}
	if len(accounts) < 3 {
		return ErrNotEnoughAccountKeys
	}
	src, dst, authority := accounts[0], accounts[1], accounts[2]

	from, err := DecodeTokenAccount(src)
	if err != nil {
		return err
	}
	to, err := DecodeTokenAccount(dst)
	if err != nil {
		return err
	}
	if from.State == token.Frozen || to.State == token.Frozen {
		return ErrTokenAccountFrozen
	}
	if !from.Mint.Equals(to.Mint) {
		return fmt.Errorf("%w: %s -> %s", ErrTokenMintMismatch, from.Mint, to.Mint)
	}
	if !from.Owner.Equals(authority.Key) {
		return fmt.Errorf("%w: %s is owned by %s", ErrTokenOwnerMismatch, src.Key, from.Owner)
	}
	if !authority.IsSigner {
		return fmt.Errorf("%w: token owner %s", ErrMissingRequiredSignature, authority.Key)
	}
	if from.Amount < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientFunds, src.Key, from.Amount, amount)
	}
	if src.Key.Equals(dst.Key) {
		return nil
	}
	if to.Amount+amount < to.Amount {
		return ErrArithmeticOverflow
	}

	from.Amount -= amount
	to.Amount += amount
	if err := writeTokenAccount(src, from); err != nil {
		return err
	}
	return writeTokenAccount(dst, to)
}

// NewTokenAccount returns a rent-exempt, initialized token account owned by
// the token program.
func NewTokenAccount(rent Rent, mint, owner solana.PublicKey, amount uint64) (*Account, error) {
	data, err := encodeTokenAccount(&token.Account{
		Mint:   mint,
		Owner:  owner,
		Amount: amount,
		State:  token.Initialized,
	})
	if err != nil {
		return nil, err
	}
	return &Account{
		Lamports: rent.MinimumBalance(uint64(len(data))),
		Owner:    solana.TokenProgramID,
		Data:     data,
	}, nil
}

// DecodeTokenAccount reads an initialized token account.
func DecodeTokenAccount(info *AccountInfo) (*token.Account, error) {
	if !info.Owner().Equals(solana.TokenProgramID) {
		return nil, fmt.Errorf("%w: %s is not a token account", ErrInvalidAccountOwner, info.Key)
	}
	return UnmarshalTokenAccount(info.Data())
}

func UnmarshalTokenAccount(data []byte) (*token.Account, error) {
	var acct token.Account
	if err := bin.NewBinDecoder(data).Decode(&acct); err != nil {
		return nil, fmt.Errorf("%w: token account: %v", ErrInvalidAccountDataLength, err)
	}
	if acct.State == token.Uninitialized {
		return nil, ErrUninitializedTokenAccount
	}
	return &acct, nil
}

func encodeTokenAccount(acct *token.Account) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := bin.NewBinEncoder(buf).Encode(acct); err != nil {
		return nil, fmt.Errorf("encode token account: %w", err)
	}
	return buf.Bytes(), nil
}

func writeTokenAccount(info *AccountInfo, acct *token.Account) error {
	raw, err := encodeTokenAccount(acct)
	if err != nil {
		return err
	}
	if len(raw) > len(info.Data()) {
		return fmt.Errorf("%w: %s", ErrInvalidAccountDataLength, info.Key)
	}
	copy(info.Data(), raw)
	return nil
}
