package dex

import (
	"bytes"
	"fmt"
	"slices"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/dex/settlement/internal/ledger"
)

const (
	TagUninitialized = uint64(0)
	TagMarket        = uint64(1)
	TagUserAccount   = uint64(2)
	TagClosed        = uint64(3)

	MarketStateSize       = 8 + 8 + 8*32 + 5*8
	UserAccountHeaderSize = 8 + 32 + 32 + 5*8

	MaxOrdersLimit = 128
	FeeBpsDenom    = uint64(10_000)
)

// MarketState is the per-market record.
type MarketState struct {
	Tag              uint64
	SignerNonce      uint64
	BaseMint         solana.PublicKey
	QuoteMint        solana.PublicKey
	BaseVault        solana.PublicKey
	QuoteVault       solana.PublicKey
	Orderbook        solana.PublicKey
	EventQueue       solana.PublicKey
	AaobProgram      solana.PublicKey
	Admin            solana.PublicKey
	AccumulatedFees  uint64
	CrankerReward    uint64
	FeeBudget        uint64
	FeeBps           uint64
	MinBaseOrderSize uint64
}

func (m *MarketState) UnmarshalWithDecoder(dec *bin.Decoder) error {
	var err error
	if m.Tag, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if m.SignerNonce, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	for _, key := range m.keys() {
		raw, err := dec.ReadBytes(solana.PublicKeyLength)
		if err != nil {
			return err
		}
		*key = solana.PublicKeyFromBytes(raw)
	}
	for _, v := range m.counters() {
		if *v, err = dec.ReadUint64(bin.LE); err != nil {
			return err
		}
	}
	return nil
}

func (m *MarketState) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint64(m.Tag, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(m.SignerNonce, bin.LE); err != nil {
		return err
	}
	for _, key := range m.keys() {
		if err := enc.WriteBytes(key[:], false); err != nil {
			return err
		}
	}
	for _, v := range m.counters() {
		if err := enc.WriteUint64(*v, bin.LE); err != nil {
			return err
		}
	}
	return nil
}

func (m *MarketState) keys() []*solana.PublicKey {
	return []*solana.PublicKey{
		&m.BaseMint, &m.QuoteMint, &m.BaseVault, &m.QuoteVault,
		&m.Orderbook, &m.EventQueue, &m.AaobProgram, &m.Admin,
	}
}

func (m *MarketState) counters() []*uint64 {
	return []*uint64{&m.AccumulatedFees, &m.CrankerReward, &m.FeeBudget, &m.FeeBps, &m.MinBaseOrderSize}
}

// DecodeMarketState decodes a market record of exactly MarketStateSize bytes.
func DecodeMarketState(data []byte) (*MarketState, error) {
	if len(data) != MarketStateSize {
		return nil, fmt.Errorf("%w: market record of %d bytes", ErrInvalidStateData, len(data))
	}
	var m MarketState
	if err := bin.NewBinDecoder(data).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStateData, err)
	}
	return &m, nil
}

// WriteTo serializes the record into data in place.
func (m *MarketState) WriteTo(data []byte) error {
	if len(data) != MarketStateSize {
		return fmt.Errorf("%w: market record of %d bytes", ErrInvalidStateData, len(data))
	}
	buf := bytes.NewBuffer(make([]byte, 0, MarketStateSize))
	if err := bin.NewBinEncoder(buf).Encode(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStateData, err)
	}
	copy(data, buf.Bytes())
	return nil
}

// UserAccount holds one trader's balances on one market and the ids of the
// orders it has resting.
type UserAccount struct {
	Tag         uint64
	Market      solana.PublicKey
	Owner       solana.PublicKey
	BaseFree    uint64
	BaseLocked  uint64
	QuoteFree   uint64
	QuoteLocked uint64
	Orders      []uint64

	maxOrders int
}

func UserAccountSize(maxOrders int) int { return UserAccountHeaderSize + 8*maxOrders }

func DecodeUserAccount(data []byte) (*UserAccount, error) {
	if len(data) < UserAccountHeaderSize || (len(data)-UserAccountHeaderSize)%8 != 0 {
		return nil, fmt.Errorf("%w: user account of %d bytes", ErrInvalidStateData, len(data))
	}
	u := &UserAccount{maxOrders: (len(data) - UserAccountHeaderSize) / 8}
	if err := bin.NewBinDecoder(data).Decode(u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStateData, err)
	}
	return u, nil
}

// UnmarshalWithDecoder expects maxOrders to be set from the account size.
func (u *UserAccount) UnmarshalWithDecoder(dec *bin.Decoder) error {
	if err := readUint64s(dec, &u.Tag); err != nil {
		return err
	}
	for _, key := range []*solana.PublicKey{&u.Market, &u.Owner} {
		raw, err := dec.ReadBytes(solana.PublicKeyLength)
		if err != nil {
			return err
		}
		*key = solana.PublicKeyFromBytes(raw)
	}
	var n uint64
	if err := readUint64s(dec, &u.BaseFree, &u.BaseLocked, &u.QuoteFree, &u.QuoteLocked, &n); err != nil {
		return err
	}
	if n > uint64(u.maxOrders) {
		return fmt.Errorf("%d orders in %d slots", n, u.maxOrders)
	}
	u.Orders = make([]uint64, n)
	for i := range u.Orders {
		if err := readUint64s(dec, &u.Orders[i]); err != nil {
			return err
		}
	}
	return nil
}

func (u *UserAccount) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := writeUint64s(enc, u.Tag); err != nil {
		return err
	}
	if err := enc.WriteBytes(u.Market[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(u.Owner[:], false); err != nil {
		return err
	}
	if err := writeUint64s(enc, u.BaseFree, u.BaseLocked, u.QuoteFree, u.QuoteLocked, uint64(len(u.Orders))); err != nil {
		return err
	}
	return writeUint64s(enc, u.Orders...)
}

func (u *UserAccount) WriteTo(data []byte) error {
	if len(data) != UserAccountSize(u.maxOrders) || len(u.Orders) > u.maxOrders {
		return fmt.Errorf("%w: user account does not fit", ErrInvalidStateData)
	}
	buf := bytes.NewBuffer(make([]byte, 0, len(data)))
	if err := bin.NewBinEncoder(buf).Encode(u); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStateData, err)
	}
	n := copy(data, buf.Bytes())
	clear(data[n:])
	return nil
}

func (u *UserAccount) MaxOrders() int { return u.maxOrders }

func (u *UserAccount) IsEmpty() bool {
	return u.BaseFree == 0 && u.BaseLocked == 0 && u.QuoteFree == 0 && u.QuoteLocked == 0 && len(u.Orders) == 0
}

func (u *UserAccount) HasOrder(id uint64) bool { return slices.Contains(u.Orders, id) }

func (u *UserAccount) AddOrder(id uint64) error {
	if len(u.Orders) >= u.maxOrders {
		return ErrUserAccountFull
	}
	u.Orders = append(u.Orders, id)
	return nil
}

func (u *UserAccount) RemoveOrder(id uint64) bool {
	i := slices.Index(u.Orders, id)
	if i < 0 {
		return false
	}
	u.Orders = slices.Delete(u.Orders, i, i+1)
	return true
}

func credit(balance *uint64, amount uint64) error {
	if *balance+amount < *balance {
		return ErrBalanceOverflow
	}
	*balance += amount
	return nil
}

func debit(balance *uint64, amount uint64) error {
	if amount > *balance {
		return fmt.Errorf("%w: %d of %d", ErrBalanceUnderflow, amount, *balance)
	}
	*balance -= amount
	return nil
}

// unlock moves amount from a locked balance back to the matching free one.
func unlock(free, locked *uint64, amount uint64) error {
	if err := debit(locked, amount); err != nil {
		return err
	}
	return credit(free, amount)
}

func loadMarket(programID solana.PublicKey, info *ledger.AccountInfo) (*MarketState, error) {
	if !info.Owner().Equals(programID) {
		return nil, fmt.Errorf("%w: market %s", ErrInvalidStateOwner, info.Key)
	}
	m, err := DecodeMarketState(info.Data())
	if err != nil {
		return nil, err
	}
	switch m.Tag {
	case TagMarket:
		return m, nil
	case TagClosed:
		return nil, ErrMarketClosed
	default:
		return nil, fmt.Errorf("%w: market %s", ErrUninitialized, info.Key)
	}
}

// withMarket decodes the market, runs fn and writes the record back in place
// whatever fn returns.
func withMarket(programID solana.PublicKey, info *ledger.AccountInfo, fn func(*MarketState) error) (err error) {
	m, err := loadMarket(programID, info)
	if err != nil {
		return err
	}
	defer func() {
		if werr := m.WriteTo(info.Data()); werr != nil && err == nil {
			err = werr
		}
	}()
	return fn(m)
}

func loadUser(programID solana.PublicKey, info *ledger.AccountInfo) (*UserAccount, error) {
	if !info.Owner().Equals(programID) {
		return nil, fmt.Errorf("%w: user account %s", ErrInvalidStateOwner, info.Key)
	}
	u, err := DecodeUserAccount(info.Data())
	if err != nil {
		return nil, err
	}
	if u.Tag != TagUserAccount {
		return nil, fmt.Errorf("%w: user account %s", ErrUninitialized, info.Key)
	}
	return u, nil
}

func withUser(programID solana.PublicKey, info *ledger.AccountInfo, fn func(*UserAccount) error) (err error) {
	u, err := loadUser(programID, info)
	if err != nil {
		return err
	}
	defer func() {
		if werr := u.WriteTo(info.Data()); werr != nil && err == nil {
			err = werr
		}
	}()
	return fn(u)
}

// checkUser verifies that a user account belongs to market and, when owner is
// non-nil, to owner.
func checkUser(u *UserAccount, market solana.PublicKey, owner *ledger.AccountInfo) error {
	if !u.Market.Equals(market) {
		return fmt.Errorf("%w: %s", ErrWrongMarket, u.Market)
	}
	if owner != nil && !u.Owner.Equals(owner.Key) {
		return fmt.Errorf("%w: %s", ErrInvalidUserOwner, owner.Key)
	}
	return nil
}
