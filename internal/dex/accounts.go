package dex

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/dex/settlement/internal/ledger"
)

type ownerRule uint8

const (
	ownerAny ownerRule = iota
	// owned by the dex program
	ownerProgram
	// an account of the token program
	ownerTokenProgram
	// owned by the program in slot accountSlot.ownerSlot
	ownerSlotProgram
	// the token program itself
	isTokenProgram
	// the system program itself
	isSystemProgram
	// any executable program account
	isExecutable
)

type accountSlot struct {
	name      string
	writable  bool
	signer    bool
	owner     ownerRule
	ownerSlot int
}

type schema struct {
	slots []accountSlot
	// rest, when set, describes every account after the fixed slots.
	rest *accountSlot
}

func slotOf(name string, writable, signer bool, owner ownerRule) accountSlot {
	return accountSlot{name: name, writable: writable, signer: signer, owner: owner}
}

var schemas = map[Tag]schema{
	TagCreateMarket: {slots: []accountSlot{
		slotOf("market", true, false, ownerProgram),
		{name: "orderbook", owner: ownerSlotProgram, ownerSlot: 4},
		slotOf("base_vault", false, false, ownerTokenProgram),
		slotOf("quote_vault", false, false, ownerTokenProgram),
		slotOf("aaob_program", false, false, isExecutable),
		slotOf("admin", false, true, ownerAny),
	}},
	TagNewOrder: {slots: []accountSlot{
		slotOf("aaob_program", false, false, isExecutable),
		slotOf("token_program", false, false, isTokenProgram),
		slotOf("system_program", false, false, isSystemProgram),
		slotOf("market", true, false, ownerProgram),
		slotOf("market_signer", false, false, ownerAny),
		{name: "orderbook", writable: true, owner: ownerSlotProgram, ownerSlot: 0},
		{name: "event_queue", writable: true, owner: ownerSlotProgram, ownerSlot: 0},
		slotOf("base_vault", true, false, ownerTokenProgram),
		slotOf("quote_vault", true, false, ownerTokenProgram),
		slotOf("user", true, false, ownerProgram),
		slotOf("user_token_account", true, false, ownerTokenProgram),
		slotOf("user_owner", true, true, ownerAny),
	}},
	TagCancelOrder: {slots: []accountSlot{
		slotOf("aaob_program", false, false, isExecutable),
		slotOf("market", false, false, ownerProgram),
		slotOf("market_signer", false, false, ownerAny),
		{name: "orderbook", writable: true, owner: ownerSlotProgram, ownerSlot: 0},
		{name: "event_queue", writable: true, owner: ownerSlotProgram, ownerSlot: 0},
		slotOf("user", true, false, ownerProgram),
		slotOf("user_owner", false, true, ownerAny),
	}},
	TagConsumeEvents: {
		slots: []accountSlot{
			slotOf("aaob_program", false, false, isExecutable),
			slotOf("market", true, false, ownerProgram),
			slotOf("market_signer", false, false, ownerAny),
			{name: "orderbook", writable: true, owner: ownerSlotProgram, ownerSlot: 0},
			{name: "event_queue", writable: true, owner: ownerSlotProgram, ownerSlot: 0},
			slotOf("reward_target", true, false, ownerAny),
		},
		rest: &accountSlot{name: "user", writable: true, owner: ownerProgram},
	},
	TagSettle: {slots: []accountSlot{
		slotOf("token_program", false, false, isTokenProgram),
		slotOf("market", false, false, ownerProgram),
		slotOf("base_vault", true, false, ownerTokenProgram),
		slotOf("quote_vault", true, false, ownerTokenProgram),
		slotOf("market_signer", false, false, ownerAny),
		slotOf("user", true, false, ownerProgram),
		slotOf("user_owner", false, true, ownerAny),
		slotOf("destination_base_account", true, false, ownerTokenProgram),
		slotOf("destination_quote_account", true, false, ownerTokenProgram),
	}},
	TagInitializeAccount: {slots: []accountSlot{
		slotOf("system_program", false, false, isSystemProgram),
		slotOf("user", true, false, ownerAny),
		slotOf("user_owner", false, true, ownerAny),
		slotOf("fee_payer", true, true, ownerAny),
		slotOf("market", false, false, ownerProgram),
	}},
	TagSweepFees: {slots: []accountSlot{
		slotOf("market", true, false, ownerProgram),
		slotOf("market_signer", false, false, ownerAny),
		slotOf("market_admin", false, true, ownerAny),
		slotOf("quote_vault", true, false, ownerTokenProgram),
		slotOf("destination_token_account", true, false, ownerTokenProgram),
		slotOf("token_program", false, false, isTokenProgram),
	}},
	TagCloseAccount: {slots: []accountSlot{
		slotOf("user", true, false, ownerProgram),
		slotOf("user_owner", false, true, ownerAny),
		slotOf("target_lamports_account", true, false, ownerAny),
	}},
	TagCloseMarket: {slots: []accountSlot{
		slotOf("market", true, false, ownerProgram),
		slotOf("base_vault", false, false, ownerTokenProgram),
		slotOf("quote_vault", false, false, ownerTokenProgram),
		slotOf("market_signer", false, false, ownerAny),
		{name: "orderbook", writable: true, owner: ownerSlotProgram, ownerSlot: 6},
		{name: "event_queue", writable: true, owner: ownerSlotProgram, ownerSlot: 6},
		slotOf("aaob_program", false, false, isExecutable),
		slotOf("market_admin", false, true, ownerAny),
		slotOf("target_lamports_account", true, false, ownerAny),
	}},
}

// parseAccounts checks infos against the schema of tag and returns them in
// schema order. Nothing else runs before this succeeds.
func parseAccounts(programID solana.PublicKey, tag Tag, infos []*ledger.AccountInfo) ([]*ledger.AccountInfo, error) {
	s, ok := schemas[tag]
	if !ok {
		return nil, fmt.Errorf("%w: no account schema for tag %d", ErrInvalidInstruction, tag)
	}
	if len(infos) < len(s.slots) || (s.rest == nil && len(infos) != len(s.slots)) {
		return nil, fmt.Errorf("%w: %s expects %d accounts, got %d", ErrAccountCount, tag, len(s.slots), len(infos))
	}
	for i, info := range infos {
		slot := s.rest
		if i < len(s.slots) {
			slot = &s.slots[i]
		}
		if err := checkSlot(programID, slot, info, infos); err != nil {
			return nil, fmt.Errorf("%s account %d (%s): %w", tag, i, slot.name, err)
		}
	}
	return infos, nil
}

func checkSlot(programID solana.PublicKey, slot *accountSlot, info *ledger.AccountInfo, infos []*ledger.AccountInfo) error {
	if slot.writable && !info.IsWritable {
		return ErrAccountNotWritable
	}
	if slot.signer && !info.IsSigner {
		return ErrMissingSigner
	}
	switch slot.owner {
	case ownerProgram:
		if !info.Owner().Equals(programID) {
			return ErrInvalidStateOwner
		}
	case ownerTokenProgram:
		if !info.Owner().Equals(solana.TokenProgramID) {
			return ErrInvalidTokenAccount
		}
	case ownerSlotProgram:
		if !info.Owner().Equals(infos[slot.ownerSlot].Key) {
			return ErrInvalidOrderbookOwner
		}
	case isTokenProgram:
		if !info.Key.Equals(solana.TokenProgramID) {
			return ErrInvalidTokenProgram
		}
	case isSystemProgram:
		if !info.Key.Equals(solana.SystemProgramID) {
			return ErrInvalidSystemProgram
		}
	case isExecutable:
		if !info.Executable() {
			return ErrNotExecutable
		}
	}
	return nil
}

type createMarketAccounts struct {
	market, orderbook, baseVault, quoteVault, aaobProgram, admin *ledger.AccountInfo
}

type newOrderAccounts struct {
	aaobProgram, tokenProgram, systemProgram *ledger.AccountInfo
	market, marketSigner, orderbook          *ledger.AccountInfo
	eventQueue, baseVault, quoteVault        *ledger.AccountInfo
	user, userTokenAccount, userOwner        *ledger.AccountInfo
}

type cancelOrderAccounts struct {
	aaobProgram, market, marketSigner, orderbook, eventQueue, user, userOwner *ledger.AccountInfo
}

type consumeEventsAccounts struct {
	aaobProgram, market, marketSigner, orderbook, eventQueue, rewardTarget *ledger.AccountInfo
	users                                                                  []*ledger.AccountInfo
}

type settleAccounts struct {
	tokenProgram, market, baseVault, quoteVault, marketSigner *ledger.AccountInfo
	user, userOwner, destinationBase, destinationQuote        *ledger.AccountInfo
}

type initializeAccountAccounts struct {
	systemProgram, user, userOwner, feePayer, market *ledger.AccountInfo
}

type sweepFeesAccounts struct {
	market, marketSigner, admin, quoteVault, destination, tokenProgram *ledger.AccountInfo
}

type closeAccountAccounts struct {
	user, userOwner, target *ledger.AccountInfo
}

type closeMarketAccounts struct {
	market, baseVault, quoteVault, marketSigner, orderbook *ledger.AccountInfo
	eventQueue, aaobProgram, admin, target                 *ledger.AccountInfo
}

func parseCreateMarketAccounts(programID solana.PublicKey, infos []*ledger.AccountInfo) (*createMarketAccounts, error) {
	a, err := parseAccounts(programID, TagCreateMarket, infos)
	if err != nil {
		return nil, err
	}
	return &createMarketAccounts{a[0], a[1], a[2], a[3], a[4], a[5]}, nil
}

func parseNewOrderAccounts(programID solana.PublicKey, infos []*ledger.AccountInfo) (*newOrderAccounts, error) {
	a, err := parseAccounts(programID, TagNewOrder, infos)
	if err != nil {
		return nil, err
	}
	return &newOrderAccounts{a[0], a[1], a[2], a[3], a[4], a[5], a[6], a[7], a[8], a[9], a[10], a[11]}, nil
}

func parseCancelOrderAccounts(programID solana.PublicKey, infos []*ledger.AccountInfo) (*cancelOrderAccounts, error) {
	a, err := parseAccounts(programID, TagCancelOrder, infos)
	if err != nil {
		return nil, err
	}
	return &cancelOrderAccounts{a[0], a[1], a[2], a[3], a[4], a[5], a[6]}, nil
}

func parseConsumeEventsAccounts(programID solana.PublicKey, infos []*ledger.AccountInfo) (*consumeEventsAccounts, error) {
	a, err := parseAccounts(programID, TagConsumeEvents, infos)
	if err != nil {
		return nil, err
	}
	return &consumeEventsAccounts{a[0], a[1], a[2], a[3], a[4], a[5], a[6:]}, nil
}

func parseSettleAccounts(programID solana.PublicKey, infos []*ledger.AccountInfo) (*settleAccounts, error) {
	a, err := parseAccounts(programID, TagSettle, infos)
	if err != nil {
		return nil, err
	}
	return &settleAccounts{a[0], a[1], a[2], a[3], a[4], a[5], a[6], a[7], a[8]}, nil
}

func parseInitializeAccountAccounts(programID solana.PublicKey, infos []*ledger.AccountInfo) (*initializeAccountAccounts, error) {
	a, err := parseAccounts(programID, TagInitializeAccount, infos)
	if err != nil {
		return nil, err
	}
	return &initializeAccountAccounts{a[0], a[1], a[2], a[3], a[4]}, nil
}

func parseSweepFeesAccounts(programID solana.PublicKey, infos []*ledger.AccountInfo) (*sweepFeesAccounts, error) {
	a, err := parseAccounts(programID, TagSweepFees, infos)
	if err != nil {
		return nil, err
	}
	return &sweepFeesAccounts{a[0], a[1], a[2], a[3], a[4], a[5]}, nil
}

func parseCloseAccountAccounts(programID solana.PublicKey, infos []*ledger.AccountInfo) (*closeAccountAccounts, error) {
	a, err := parseAccounts(programID, TagCloseAccount, infos)
	if err != nil {
		return nil, err
	}
	return &closeAccountAccounts{a[0], a[1], a[2]}, nil
}

func parseCloseMarketAccounts(programID solana.PublicKey, infos []*ledger.AccountInfo) (*closeMarketAccounts, error) {
	a, err := parseAccounts(programID, TagCloseMarket, infos)
	if err != nil {
		return nil, err
	}
	return &closeMarketAccounts{a[0], a[1], a[2], a[3], a[4], a[5], a[6], a[7], a[8]}, nil
}
