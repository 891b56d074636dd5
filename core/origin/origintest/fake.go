// Package origintest provides an in-memory origin.Client for tests.
package origintest

import (
	"context"
	"sort"
	"sync"

	"github.com/unicitynetwork/sol-bridge-go/core/origin"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
)

// FakeClient serves canned origin chain data. The Err fields, when set, are
// returned by the matching method instead of data.
type FakeClient struct {
	mu sync.Mutex

	Transactions  map[string]types.RawTransaction
	Statuses      map[string]*types.ConfirmationRecord
	Blocks        map[uint64]*origin.Block
	Accounts      map[string]*origin.AccountInfo
	FinalizedSlot uint64
	// Signatures are returned by GetSignaturesForAddress, newest first.
	Signatures []origin.SignatureInfo

	TransactionErr error
	StatusErr      error
	BlockErr       error
	SlotErr        error
	SignaturesErr  error

	Calls map[string]int
}

var _ origin.Client = (*FakeClient)(nil)

func NewFakeClient() *FakeClient {
	return &FakeClient{
		Transactions: map[string]types.RawTransaction{},
		Statuses:     map[string]*types.ConfirmationRecord{},
		Blocks:       map[uint64]*origin.Block{},
		Accounts:     map[string]*origin.AccountInfo{},
		Calls:        map[string]int{},
	}
}

func (f *FakeClient) record(method string) {
	f.Calls[method]++
}

// CallCount returns how often method was called.
func (f *FakeClient) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[method]
}

// AddTransaction registers a transaction together with its status and
// prepends it to the signature list.
func (f *FakeClient) AddTransaction(sig string, slot uint64, raw types.RawTransaction, status types.ConfirmationStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Transactions[sig] = raw
	f.Statuses[sig] = &types.ConfirmationRecord{Signature: sig, ConfirmationStatus: status, Slot: slot}
	info := origin.SignatureInfo{Signature: sig, Slot: slot, ConfirmationStatus: status}
	f.Signatures = append([]origin.SignatureInfo{info}, f.Signatures...)
	sort.SliceStable(f.Signatures, func(i, j int) bool { return f.Signatures[i].Slot > f.Signatures[j].Slot })
}

func (f *FakeClient) SetFinalizedSlot(slot uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FinalizedSlot = slot
}

func (f *FakeClient) GetTransaction(_ context.Context, signature string) (types.RawTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getTransaction")
	if f.TransactionErr != nil {
		return nil, f.TransactionErr
	}
	return f.Transactions[signature], nil
}

func (f *FakeClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*types.ConfirmationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getSignatureStatuses")
	if f.StatusErr != nil {
		return nil, f.StatusErr
	}
	out := make([]*types.ConfirmationRecord, len(signatures))
	for i, s := range signatures {
		if rec, ok := f.Statuses[s]; ok {
			cp := *rec
			out[i] = &cp
		}
	}
	return out, nil
}

func (f *FakeClient) GetBlock(_ context.Context, slot uint64) (*origin.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getBlock")
	if f.BlockErr != nil {
		return nil, f.BlockErr
	}
	return f.Blocks[slot], nil
}

func (f *FakeClient) GetSlot(_ context.Context, _ string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getSlot")
	if f.SlotErr != nil {
		return 0, f.SlotErr
	}
	return f.FinalizedSlot, nil
}

// GetSignaturesForAddress honours Before, Until and Limit like the node.
func (f *FakeClient) GetSignaturesForAddress(_ context.Context, _ string, opts origin.SignaturesOptions) ([]origin.SignatureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getSignaturesForAddress")
	if f.SignaturesErr != nil {
		return nil, f.SignaturesErr
	}
	var out []origin.SignatureInfo
	started := opts.Before == ""
	for _, info := range f.Signatures {
		if !started {
			started = info.Signature == opts.Before
			continue
		}
		if opts.Until != "" && info.Signature == opts.Until {
			break
		}
		out = append(out, info)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (f *FakeClient) GetAccountInfo(_ context.Context, address string) (*origin.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getAccountInfo")
	return f.Accounts[address], nil
}
