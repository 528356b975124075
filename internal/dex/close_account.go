package dex

import (
	"fmt"

	"github.com/coldbell/dex/settlement/internal/ledger"
)

func (p *Program) closeAccount(ictx *ledger.InvokeContext, infos []*ledger.AccountInfo) error {
	a, err := parseCloseAccountAccounts(p.id, infos)
	if err != nil {
		return err
	}
	u, err := loadUser(p.id, a.user)
	if err != nil {
		return err
	}
	if !u.Owner.Equals(a.userOwner.Key) {
		return fmt.Errorf("%w: %s", ErrInvalidUserOwner, a.userOwner.Key)
	}
	if !u.IsEmpty() {
		return fmt.Errorf("%w: user account %s", ErrAccountNotEmpty, a.user.Key)
	}
	return closeInto(ictx, a.user, a.target)
}

// closeInto drains an account owned by the program into target and zeroes its
// data, leaving it for the ledger to purge.
func closeInto(ictx *ledger.InvokeContext, info, target *ledger.AccountInfo) error {
	lamports := info.Lamports()
	if err := target.CheckedAddLamports(lamports); err != nil {
		return err
	}
	info.SetLamports(0)
	info.ZeroData()
	ictx.Log("account closed", "account", info.Key, "lamports", lamports, "target", target.Key)
	return nil
}
