package ledger

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Account is the host's view of a single ledger account.
type Account struct {
	Lamports   uint64
	Owner      solana.PublicKey
	Executable bool
	Data       []byte
}

func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.Data = append([]byte(nil), a.Data...)
	return &out
}

// AccountInfo is an account as presented to a program for one invocation.
// Several infos may share the same backing Account when a key is repeated.
type AccountInfo struct {
	Key        solana.PublicKey
	IsSigner   bool
	IsWritable bool

	account *Account
}

func NewAccountInfo(key solana.PublicKey, signer, writable bool, account *Account) *AccountInfo {
	return &AccountInfo{Key: key, IsSigner: signer, IsWritable: writable, account: account}
}

func (i *AccountInfo) Owner() solana.PublicKey { return i.account.Owner }
func (i *AccountInfo) Lamports() uint64        { return i.account.Lamports }
func (i *AccountInfo) Executable() bool        { return i.account.Executable }

// Data returns the live data region. Writes through the slice mutate the account.
func (i *AccountInfo) Data() []byte { return i.account.Data }

func (i *AccountInfo) SetLamports(lamports uint64) { i.account.Lamports = lamports }

func (i *AccountInfo) CheckedAddLamports(lamports uint64) error {
	next := i.account.Lamports + lamports
	if next < i.account.Lamports {
		return fmt.Errorf("%w: lamports overflow on %s", ErrArithmeticOverflow, i.Key)
	}
	i.account.Lamports = next
	return nil
}

func (i *AccountInfo) CheckedSubLamports(lamports uint64) error {
	if lamports > i.account.Lamports {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientFunds, i.Key, i.account.Lamports, lamports)
	}
	i.account.Lamports -= lamports
	return nil
}

func (i *AccountInfo) assign(owner solana.PublicKey) { i.account.Owner = owner }

func (i *AccountInfo) allocate(space uint64) { i.account.Data = make([]byte, space) }

// ZeroData clears the data region without changing its length.
func (i *AccountInfo) ZeroData() {
	clear(i.account.Data)
}

type accountSnapshot struct {
	lamports   uint64
	owner      solana.PublicKey
	executable bool
	data       []byte
}

func takeSnapshot(a *Account) accountSnapshot {
	return accountSnapshot{
		lamports:   a.Lamports,
		owner:      a.Owner,
		executable: a.Executable,
		data:       append([]byte(nil), a.Data...),
	}
}

// encoding: [lamports:8][owner:32][executable:1][data_len:8][data]
func encodeAccount(a *Account) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteUint64(a.Lamports, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(a.Owner[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteBool(a.Executable); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(uint64(len(a.Data)), bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(a.Data, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeAccount(raw []byte) (*Account, error) {
	dec := bin.NewBinDecoder(raw)
	lamports, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("decode account lamports: %w", err)
	}
	owner, err := dec.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return nil, fmt.Errorf("decode account owner: %w", err)
	}
	executable, err := dec.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("decode account executable flag: %w", err)
	}
	dataLen, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("decode account data length: %w", err)
	}
	if dataLen > MaxPermittedDataLength {
		return nil, fmt.Errorf("decode account: data length %d exceeds limit", dataLen)
	}
	data, err := dec.ReadBytes(int(dataLen))
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return &Account{
		Lamports:   lamports,
		Owner:      solana.PublicKeyFromBytes(owner),
		Executable: executable,
		Data:       append([]byte(nil), data...),
	}, nil
}
