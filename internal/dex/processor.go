package dex

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/dex/settlement/internal/ledger"
)

const instructionUnits = 2_000

// Program is the dex program as hosted by a ledger.Bank.
type Program struct {
	id     solana.PublicKey
	policy Policy
}

func New(programID solana.PublicKey, policy Policy) *Program {
	if policy.Reward == nil {
		policy.Reward = ProportionalReward{}
	}
	return &Program{id: programID, policy: policy}
}

func (p *Program) ProgramID() solana.PublicKey { return p.id }

// Process decodes one instruction and routes it to its handler. Handlers only
// ever see typed parameters.
func (p *Program) Process(ictx *ledger.InvokeContext, accounts []*ledger.AccountInfo, data []byte) error {
	ix, err := DecodeInstruction(data)
	if err != nil {
		return err
	}
	if err := ictx.Consume(instructionUnits); err != nil {
		return err
	}
	ictx.Log("instruction", "tag", ix.Tag())

	switch params := ix.(type) {
	case *CreateMarketParams:
		return p.createMarket(ictx, accounts, params)
	case *NewOrderParams:
		return p.newOrder(ictx, accounts, params)
	case *CancelOrderParams:
		return p.cancelOrder(ictx, accounts, params)
	case *ConsumeEventsParams:
		return p.consumeEvents(ictx, accounts, params)
	case *SettleParams:
		return p.settle(ictx, accounts)
	case *InitializeAccountParams:
		return p.initializeAccount(ictx, accounts, params)
	case *SweepFeesParams:
		return p.sweepFees(ictx, accounts)
	case *CloseAccountParams:
		return p.closeAccount(ictx, accounts)
	case *CloseMarketParams:
		return p.closeMarket(ictx, accounts)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidInstruction, ix.Tag())
	}
}

type keyCheck struct {
	info *ledger.AccountInfo
	want solana.PublicKey
	err  *Error
}

func checkKeys(checks ...keyCheck) error {
	for _, c := range checks {
		if !c.info.Key.Equals(c.want) {
			return fmt.Errorf("%w: expected %s, got %s", c.err, c.want, c.info.Key)
		}
	}
	return nil
}

func (p *Program) verifySigner(market *ledger.AccountInfo, m *MarketState, signer *ledger.AccountInfo) error {
	return VerifyMarketSigner(p.id, market.Key, m.SignerNonce, signer.Key)
}

func signerSeeds(market solana.PublicKey, m *MarketState) [][]byte {
	return MarketSignerSeeds(market, uint8(m.SignerNonce))
}
