package ledger

import (
	"bytes"
	"context"
	"fmt"
	"math/bits"
	"strings"

	"github.com/gagliardetto/solana-go"
)

const (
	MaxInvokeDepth    = 4
	MaxReturnDataSize = 1024
)

type txState struct {
	ctx     context.Context
	bank    *Bank
	meter   *ComputeMeter
	working map[solana.PublicKey]*Account
	receipt *Receipt

	returnProgram solana.PublicKey
	returnData    []byte
}

// frame tracks the accounts of one program invocation and their state when the
// invocation started, so the runtime rules can be checked when it returns.
type frame struct {
	programID solana.PublicKey
	infos     []*AccountInfo
	keys      []solana.PublicKey
	writable  map[solana.PublicKey]bool
	pre       map[solana.PublicKey]accountSnapshot
	preSum    lamportSum
}

func newFrame(programID solana.PublicKey, infos []*AccountInfo) *frame {
	f := &frame{
		programID: programID,
		infos:     infos,
		writable:  make(map[solana.PublicKey]bool, len(infos)),
		pre:       make(map[solana.PublicKey]accountSnapshot, len(infos)),
	}
	for _, info := range infos {
		if _, seen := f.pre[info.Key]; !seen {
			f.keys = append(f.keys, info.Key)
			f.pre[info.Key] = takeSnapshot(info.account)
			f.preSum.add(info.account.Lamports)
		}
		if info.IsWritable {
			f.writable[info.Key] = true
		}
	}
	return f
}

func (f *frame) lookup(key solana.PublicKey) *AccountInfo {
	var found *AccountInfo
	for _, info := range f.infos {
		if !info.Key.Equals(key) {
			continue
		}
		if found == nil {
			found = info
		}
		if info.IsSigner && !found.IsSigner {
			found = NewAccountInfo(key, true, found.IsWritable || info.IsWritable, info.account)
		} else if info.IsWritable && !found.IsWritable {
			found = NewAccountInfo(key, found.IsSigner, true, info.account)
		}
	}
	return found
}

func (f *frame) verify(keys []solana.PublicKey, checkBalance bool) error {
	var postSum lamportSum
	for _, key := range keys {
		pre := f.pre[key]
		post := f.lookup(key).account
		postSum.add(post.Lamports)

		dataChanged := !bytes.Equal(pre.data, post.Data)
		if !f.writable[key] {
			if pre.lamports != post.Lamports || dataChanged || !pre.owner.Equals(post.Owner) {
				return fmt.Errorf("%w: %s", ErrReadonlyModified, key)
			}
		}
		if !pre.owner.Equals(post.Owner) {
			if !pre.owner.Equals(f.programID) || !isZeroed(post.Data) {
				return fmt.Errorf("%w: %s", ErrModifiedProgramID, key)
			}
		}
		if dataChanged && !pre.owner.Equals(f.programID) {
			return fmt.Errorf("%w: %s", ErrExternalDataModified, key)
		}
		if post.Lamports < pre.lamports && !pre.owner.Equals(f.programID) {
			return fmt.Errorf("%w: %s", ErrExternalLamportSpend, key)
		}
		if pre.executable != post.Executable {
			return fmt.Errorf("%w: %s", ErrExecutableModified, key)
		}
	}
	if checkBalance && postSum != f.preSum {
		return fmt.Errorf("%w: program %s", ErrUnbalancedInstruction, f.programID)
	}
	return nil
}

// refresh records the current state of keys as the new baseline, after a
// callee has legitimately changed them.
func (f *frame) refresh(keys []solana.PublicKey) {
	for _, key := range keys {
		if info := f.lookup(key); info != nil {
			f.pre[key] = takeSnapshot(info.account)
		}
	}
}

// InvokeContext is handed to a Processor for one invocation.
type InvokeContext struct {
	tx    *txState
	frame *frame
	depth int
}

func (c *InvokeContext) Context() context.Context    { return c.tx.ctx }
func (c *InvokeContext) ProgramID() solana.PublicKey { return c.frame.programID }
func (c *InvokeContext) Rent() Rent                  { return c.tx.bank.rent }
func (c *InvokeContext) Depth() int                  { return c.depth }

func (c *InvokeContext) Consume(units uint64) error { return c.tx.meter.Consume(units) }
func (c *InvokeContext) RemainingUnits() uint64     { return c.tx.meter.Remaining() }

func (c *InvokeContext) SetReturnData(data []byte) error {
	if len(data) > MaxReturnDataSize {
		return fmt.Errorf("%w: return data of %d bytes", ErrInvalidArgument, len(data))
	}
	c.tx.returnProgram = c.frame.programID
	c.tx.returnData = append([]byte(nil), data...)
	return nil
}

// ReturnData is the data most recently set by any program in this transaction,
// typically a callee that just returned.
func (c *InvokeContext) ReturnData() (solana.PublicKey, []byte) {
	return c.tx.returnProgram, c.tx.returnData
}

// Log appends a program log line to the receipt and mirrors it at debug level.
func (c *InvokeContext) Log(msg string, kv ...any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Program %s log: %s", c.frame.programID, msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", kv[i], kv[i+1])
	}
	c.tx.receipt.Logs = append(c.tx.receipt.Logs, sb.String())
	c.tx.bank.logger.Debug(msg, append([]any{"program", c.frame.programID.String()}, kv...)...)
}

// Invoke calls another program with a subset of the current accounts. Each
// entry of signerSeeds is the seed list of a program address derived from the
// calling program, which is then treated as a signer.
func (c *InvokeContext) Invoke(ix solana.Instruction, signerSeeds ...[][]byte) error {
	if c.depth+1 >= MaxInvokeDepth {
		return ErrCallDepth
	}
	if err := c.Consume(InvokeComputeUnits); err != nil {
		return err
	}

	programID := ix.ProgramID()
	proc, ok := c.tx.bank.processors[programID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProgram, programID)
	}
	if c.frame.lookup(programID) == nil {
		return fmt.Errorf("%w: program %s", ErrMissingAccount, programID)
	}

	pdaSigners := make(map[solana.PublicKey]bool, len(signerSeeds))
	for _, seeds := range signerSeeds {
		pda, err := solana.CreateProgramAddress(seeds, c.frame.programID)
		if err != nil {
			return fmt.Errorf("%w: signer seeds: %v", ErrInvalidArgument, err)
		}
		pdaSigners[pda] = true
	}

	data, err := ix.Data()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}

	metas := ix.Accounts()
	infos := make([]*AccountInfo, 0, len(metas))
	shared := make([]solana.PublicKey, 0, len(metas))
	for _, meta := range metas {
		caller := c.frame.lookup(meta.PublicKey)
		if caller == nil {
			return fmt.Errorf("%w: %s", ErrMissingAccount, meta.PublicKey)
		}
		if meta.IsWritable && !caller.IsWritable {
			return fmt.Errorf("%w: %s is not writable", ErrPrivilegeEscalation, meta.PublicKey)
		}
		if meta.IsSigner && !caller.IsSigner && !pdaSigners[meta.PublicKey] {
			return fmt.Errorf("%w: %s did not sign", ErrPrivilegeEscalation, meta.PublicKey)
		}
		infos = append(infos, NewAccountInfo(meta.PublicKey, meta.IsSigner, meta.IsWritable, caller.account))
		shared = append(shared, meta.PublicKey)
	}

	if err := c.frame.verify(uniqueKeys(shared), false); err != nil {
		return err
	}

	callee := &InvokeContext{tx: c.tx, frame: newFrame(programID, infos), depth: c.depth + 1}
	c.tx.returnProgram = solana.PublicKey{}
	c.tx.returnData = nil
	if err := callee.run(proc, data); err != nil {
		return err
	}
	c.frame.refresh(shared)
	return nil
}

func (c *InvokeContext) run(proc Processor, data []byte) error {
	if err := c.tx.ctx.Err(); err != nil {
		return err
	}
	if err := proc.Process(c, c.frame.infos, data); err != nil {
		c.Log("failed", "error", err)
		return fmt.Errorf("program %s: %w", c.frame.programID, err)
	}
	return c.frame.verify(c.frame.keys, true)
}

func uniqueKeys(keys []solana.PublicKey) []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(keys))
	seen := make(map[solana.PublicKey]bool, len(keys))
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

type lamportSum struct{ hi, lo uint64 }

func (s *lamportSum) add(v uint64) {
	var carry uint64
	s.lo, carry = bits.Add64(s.lo, v, 0)
	s.hi += carry
}
