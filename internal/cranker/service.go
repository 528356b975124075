package cranker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"

	"github.com/coldbell/dex/settlement/internal/aaob"
	"github.com/coldbell/dex/settlement/internal/config"
	"github.com/coldbell/dex/settlement/internal/dex"
	"github.com/coldbell/dex/settlement/internal/journal"
	"github.com/coldbell/dex/settlement/internal/ledger"
)

var errMarketNotFound = errors.New("market account not found")

// Journal records crank transactions that moved the queue.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Service drives ConsumeEvents for one market on a timer.
type Service struct {
	cfg     config.CrankConfig
	bank    *ledger.Bank
	signer  solana.PrivateKey
	journal Journal
	logger  *slog.Logger
}

// New returns a cranker paying fees with signer. j may be nil.
func New(cfg config.CrankConfig, bank *ledger.Bank, signer solana.PrivateKey, j Journal, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		bank:    bank,
		signer:  signer,
		journal: j,
		logger:  logger,
	}
}

func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("cranker started",
		"market", s.cfg.Market,
		"cranker", s.signer.PublicKey(),
		"dex_program", s.cfg.DexProgramID,
		"poll_interval", s.cfg.PollInterval,
	)

	if _, err := s.Tick(ctx); err != nil {
		s.logger.Error("crank tick failed", "err", err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cranker stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error("crank tick failed", "err", err)
			}
		}
	}
}

// Tick sends at most one ConsumeEvents transaction. It returns nil without
// sending anything when the queue is empty or none of its users can be found.
func (s *Service) Tick(ctx context.Context) (*dex.CrankOutcome, error) {
	keys, queue, err := s.loadMarket()
	if err != nil {
		return nil, err
	}
	if queue.Len() == 0 {
		return nil, nil
	}

	users, err := s.collectUsers(queue)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		s.logger.Warn("no user accounts found for queued events", "market", s.cfg.Market, "pending", queue.Len())
		return nil, nil
	}

	target := s.cfg.RewardTarget
	if target.IsZero() {
		target = s.signer.PublicKey()
	}

	instructions := make([]solana.Instruction, 0, 2)
	if s.cfg.ComputeUnitLimit > 0 {
		cuLimitIx, err := computebudget.NewSetComputeUnitLimitInstruction(s.cfg.ComputeUnitLimit).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit limit instruction: %w", err)
		}
		instructions = append(instructions, cuLimitIx)
	}
	instructions = append(instructions, dex.NewConsumeEventsInstruction(keys, target, users, dex.ConsumeEventsParams{
		MaxIterations: uint64(s.cfg.MaxEventsPerTick),
	}))

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout())
	defer cancel()

	receipt, err := s.bank.Execute(txCtx, s.signer, instructions)
	if err != nil {
		return nil, fmt.Errorf("send consume_events transaction: %w", err)
	}
	if !receipt.ReturnProgram.Equals(s.cfg.DexProgramID) {
		return nil, fmt.Errorf("consume_events %s returned data from %s", receipt.Signature, receipt.ReturnProgram)
	}
	out, err := dex.DecodeCrankOutcome(receipt.ReturnData)
	if err != nil {
		return nil, fmt.Errorf("decode crank outcome of %s: %w", receipt.Signature, err)
	}

	if s.journal != nil && out.Applied+out.Skipped > 0 {
		entry := journal.Entry{
			Market:    s.cfg.Market,
			Signature: receipt.Signature,
			Slot:      receipt.Slot,
			Applied:   out.Applied,
			Skipped:   out.Skipped,
			Reward:    out.Reward,
			Pending:   out.Pending,
			CreatedAt: time.Now(),
		}
		if err := s.journal.Record(ctx, entry); err != nil {
			s.logger.Warn("crank journal write failed", "signature", receipt.Signature, "err", err)
		}
	}

	s.logger.Info("crank tick complete",
		"signature", receipt.Signature,
		"users", len(users),
		"applied", out.Applied,
		"skipped", out.Skipped,
		"reward", out.Reward,
		"pending", out.Pending,
		"compute_units", receipt.ComputeUnitsConsumed,
	)
	return &out, nil
}

func (s *Service) txTimeout() time.Duration {
	if s.cfg.TxTimeout > 0 {
		return s.cfg.TxTimeout
	}
	return 10 * time.Second
}

func (s *Service) loadMarket() (dex.MarketKeys, *aaob.EventQueue, error) {
	acct, err := s.bank.GetAccount(s.cfg.Market)
	if err != nil {
		return dex.MarketKeys{}, nil, fmt.Errorf("load market %s: %w", s.cfg.Market, err)
	}
	if acct == nil {
		return dex.MarketKeys{}, nil, fmt.Errorf("%w: %s", errMarketNotFound, s.cfg.Market)
	}
	state, err := dex.DecodeMarketState(acct.Data)
	if err != nil {
		return dex.MarketKeys{}, nil, fmt.Errorf("decode market %s: %w", s.cfg.Market, err)
	}
	if state.Tag != dex.TagMarket {
		return dex.MarketKeys{}, nil, fmt.Errorf("market %s is not open (tag %d)", s.cfg.Market, state.Tag)
	}
	keys, err := dex.MarketKeysFromState(s.cfg.DexProgramID, s.cfg.Market, state)
	if err != nil {
		return dex.MarketKeys{}, nil, err
	}

	eq, err := s.bank.GetAccount(keys.EventQueue)
	if err != nil {
		return dex.MarketKeys{}, nil, fmt.Errorf("load event queue %s: %w", keys.EventQueue, err)
	}
	if eq == nil {
		return dex.MarketKeys{}, nil, fmt.Errorf("event queue %s not found", keys.EventQueue)
	}
	queue, err := aaob.LoadEventQueue(eq.Data)
	if err != nil {
		return dex.MarketKeys{}, nil, fmt.Errorf("decode event queue %s: %w", keys.EventQueue, err)
	}
	return keys, queue, nil
}

// collectUsers walks the head of the queue and returns the distinct user
// accounts it references, in first-seen order. Users whose account is gone or
// not owned by the dex program are left out, so the crank stops at their first
// event and leaves it queued.
func (s *Service) collectUsers(queue *aaob.EventQueue) ([]solana.PublicKey, error) {
	limit := min(queue.Len(), s.cfg.MaxEventsPerTick)
	seen := make(map[solana.PublicKey]struct{}, limit)
	users := make([]solana.PublicKey, 0, min(limit, s.cfg.MaxUserAccounts))
	for i := 0; i < limit && len(users) < s.cfg.MaxUserAccounts; i++ {
		ev, err := queue.At(i)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[ev.User]; ok {
			continue
		}
		seen[ev.User] = struct{}{}

		acct, err := s.bank.GetAccount(ev.User)
		if err != nil {
			return nil, fmt.Errorf("load user %s: %w", ev.User, err)
		}
		if acct == nil || !acct.Owner.Equals(s.cfg.DexProgramID) {
			s.logger.Warn("queued event references unknown user", "user", ev.User, "order_id", ev.OrderID)
			continue
		}
		users = append(users, ev.User)
	}
	return users, nil
}
