package dex

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// MarketKeys are the addresses a client needs to address a market.
type MarketKeys struct {
	ProgramID    solana.PublicKey
	Market       solana.PublicKey
	MarketSigner solana.PublicKey
	Orderbook    solana.PublicKey
	EventQueue   solana.PublicKey
	BaseVault    solana.PublicKey
	QuoteVault   solana.PublicKey
	AaobProgram  solana.PublicKey
	Admin        solana.PublicKey
}

func MarketKeysFromState(programID, market solana.PublicKey, state *MarketState) (MarketKeys, error) {
	if state.SignerNonce > 255 {
		return MarketKeys{}, fmt.Errorf("%w: nonce %d", ErrInvalidMarketSigner, state.SignerNonce)
	}
	signer, err := solana.CreateProgramAddress(MarketSignerSeeds(market, uint8(state.SignerNonce)), programID)
	if err != nil {
		return MarketKeys{}, fmt.Errorf("%w: %v", ErrInvalidMarketSigner, err)
	}
	return MarketKeys{
		ProgramID:    programID,
		Market:       market,
		MarketSigner: signer,
		Orderbook:    state.Orderbook,
		EventQueue:   state.EventQueue,
		BaseVault:    state.BaseVault,
		QuoteVault:   state.QuoteVault,
		AaobProgram:  state.AaobProgram,
		Admin:        state.Admin,
	}, nil
}

func build(programID solana.PublicKey, ix Instruction, accounts solana.AccountMetaSlice) solana.Instruction {
	data, err := EncodeInstruction(ix)
	if err != nil {
		panic(fmt.Errorf("encode %s: %w", ix.Tag(), err))
	}
	return solana.NewInstruction(programID, accounts, data)
}

func NewCreateMarketInstruction(programID, market, orderbook, baseVault, quoteVault, aaobProgram, admin solana.PublicKey, params CreateMarketParams) solana.Instruction {
	return build(programID, &params, solana.AccountMetaSlice{
		solana.NewAccountMeta(market, true, false),
		solana.NewAccountMeta(orderbook, false, false),
		solana.NewAccountMeta(baseVault, false, false),
		solana.NewAccountMeta(quoteVault, false, false),
		solana.NewAccountMeta(aaobProgram, false, false),
		solana.NewAccountMeta(admin, false, true),
	})
}

func NewNewOrderInstruction(k MarketKeys, user, userTokenAccount, owner solana.PublicKey, params NewOrderParams) solana.Instruction {
	return build(k.ProgramID, &params, solana.AccountMetaSlice{
		solana.NewAccountMeta(k.AaobProgram, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(k.Market, true, false),
		solana.NewAccountMeta(k.MarketSigner, false, false),
		solana.NewAccountMeta(k.Orderbook, true, false),
		solana.NewAccountMeta(k.EventQueue, true, false),
		solana.NewAccountMeta(k.BaseVault, true, false),
		solana.NewAccountMeta(k.QuoteVault, true, false),
		solana.NewAccountMeta(user, true, false),
		solana.NewAccountMeta(userTokenAccount, true, false),
		solana.NewAccountMeta(owner, true, true),
	})
}

func NewCancelOrderInstruction(k MarketKeys, user, owner solana.PublicKey, orderID uint64) solana.Instruction {
	return build(k.ProgramID, &CancelOrderParams{OrderID: orderID}, solana.AccountMetaSlice{
		solana.NewAccountMeta(k.AaobProgram, false, false),
		solana.NewAccountMeta(k.Market, false, false),
		solana.NewAccountMeta(k.MarketSigner, false, false),
		solana.NewAccountMeta(k.Orderbook, true, false),
		solana.NewAccountMeta(k.EventQueue, true, false),
		solana.NewAccountMeta(user, true, false),
		solana.NewAccountMeta(owner, false, true),
	})
}

func NewConsumeEventsInstruction(k MarketKeys, rewardTarget solana.PublicKey, users []solana.PublicKey, params ConsumeEventsParams) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(k.AaobProgram, false, false),
		solana.NewAccountMeta(k.Market, true, false),
		solana.NewAccountMeta(k.MarketSigner, false, false),
		solana.NewAccountMeta(k.Orderbook, true, false),
		solana.NewAccountMeta(k.EventQueue, true, false),
		solana.NewAccountMeta(rewardTarget, true, false),
	}
	for _, user := range users {
		accounts = append(accounts, solana.NewAccountMeta(user, true, false))
	}
	return build(k.ProgramID, &params, accounts)
}

func NewSettleInstruction(k MarketKeys, user, owner, destinationBase, destinationQuote solana.PublicKey) solana.Instruction {
	return build(k.ProgramID, &SettleParams{}, solana.AccountMetaSlice{
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(k.Market, false, false),
		solana.NewAccountMeta(k.BaseVault, true, false),
		solana.NewAccountMeta(k.QuoteVault, true, false),
		solana.NewAccountMeta(k.MarketSigner, false, false),
		solana.NewAccountMeta(user, true, false),
		solana.NewAccountMeta(owner, false, true),
		solana.NewAccountMeta(destinationBase, true, false),
		solana.NewAccountMeta(destinationQuote, true, false),
	})
}

// NewInitializeAccountInstruction creates the user account of owner on market
// at its derived address.
func NewInitializeAccountInstruction(programID, market, owner, feePayer solana.PublicKey, maxOrders uint64) solana.Instruction {
	user := MustDeriveUserAccount(programID, market, owner)
	return build(programID, &InitializeAccountParams{Market: market, MaxOrders: maxOrders}, solana.AccountMetaSlice{
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(user, true, false),
		solana.NewAccountMeta(owner, false, true),
		solana.NewAccountMeta(feePayer, true, true),
		solana.NewAccountMeta(market, false, false),
	})
}

func NewSweepFeesInstruction(k MarketKeys, destination solana.PublicKey) solana.Instruction {
	return build(k.ProgramID, &SweepFeesParams{}, solana.AccountMetaSlice{
		solana.NewAccountMeta(k.Market, true, false),
		solana.NewAccountMeta(k.MarketSigner, false, false),
		solana.NewAccountMeta(k.Admin, false, true),
		solana.NewAccountMeta(k.QuoteVault, true, false),
		solana.NewAccountMeta(destination, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	})
}

func NewCloseAccountInstruction(programID, user, owner, target solana.PublicKey) solana.Instruction {
	return build(programID, &CloseAccountParams{}, solana.AccountMetaSlice{
		solana.NewAccountMeta(user, true, false),
		solana.NewAccountMeta(owner, false, true),
		solana.NewAccountMeta(target, true, false),
	})
}

func NewCloseMarketInstruction(k MarketKeys, target solana.PublicKey) solana.Instruction {
	return build(k.ProgramID, &CloseMarketParams{}, solana.AccountMetaSlice{
		solana.NewAccountMeta(k.Market, true, false),
		solana.NewAccountMeta(k.BaseVault, false, false),
		solana.NewAccountMeta(k.QuoteVault, false, false),
		solana.NewAccountMeta(k.MarketSigner, false, false),
		solana.NewAccountMeta(k.Orderbook, true, false),
		solana.NewAccountMeta(k.EventQueue, true, false),
		solana.NewAccountMeta(k.AaobProgram, false, false),
		solana.NewAccountMeta(k.Admin, false, true),
		solana.NewAccountMeta(target, true, false),
	})
}
