package dex

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/coldbell/dex/settlement/internal/ledger"
)

func (p *Program) initializeAccount(ictx *ledger.InvokeContext, infos []*ledger.AccountInfo, params *InitializeAccountParams) error {
	a, err := parseInitializeAccountAccounts(p.id, infos)
	if err != nil {
		return err
	}
	if params.MaxOrders == 0 || params.MaxOrders > MaxOrdersLimit {
		return fmt.Errorf("%w: %d", ErrInvalidMaxOrders, params.MaxOrders)
	}
	if !a.market.Key.Equals(params.Market) {
		return fmt.Errorf("%w: expected %s, got %s", ErrWrongMarket, params.Market, a.market.Key)
	}
	if _, err := loadMarket(p.id, a.market); err != nil {
		return err
	}
	key, bump, err := DeriveUserAccount(p.id, params.Market, a.userOwner.Key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignerDerivation, err)
	}
	if !a.user.Key.Equals(key) {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidUserAccountKey, key, a.user.Key)
	}
	if a.user.Lamports() > 0 || !a.user.Owner().Equals(solana.SystemProgramID) {
		return fmt.Errorf("%w: user account %s", ErrAlreadyInitialized, a.user.Key)
	}

	space := uint64(UserAccountSize(int(params.MaxOrders)))
	create := system.NewCreateAccountInstruction(
		ictx.Rent().MinimumBalance(space), space, p.id, a.feePayer.Key, a.user.Key,
	).Build()
	seeds := append(UserAccountSeeds(params.Market, a.userOwner.Key), []byte{bump})
	if err := ictx.Invoke(create, seeds); err != nil {
		return err
	}

	u, err := DecodeUserAccount(a.user.Data())
	if err != nil {
		return err
	}
	u.Tag = TagUserAccount
	u.Market = params.Market
	u.Owner = a.userOwner.Key
	if err := u.WriteTo(a.user.Data()); err != nil {
		return err
	}
	ictx.Log("user account initialized", "user", a.user.Key, "max_orders", params.MaxOrders)
	return nil
}
