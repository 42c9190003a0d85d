package sponsorpool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// SelectorLength is the number of leading calldata bytes that identify the
// operation being invoked on a target contract.
const SelectorLength = 4

// Selector is the 4-byte operation identifier taken from the head of calldata.
type Selector [SelectorLength]byte

func (s Selector) Hex() string { return fmt.Sprintf("0x%x", s[:]) }

// ScopeKind discriminates the five pool namespaces. Each kind addresses an
// independent pool; a deposit under one kind is never visible under another,
// even for the same payer/target pair.
type ScopeKind uint8

const (
	// ScopePayerTarget covers all calls from one payer to one target.
	ScopePayerTarget ScopeKind = iota
	// ScopeTargetSelector covers any payer invoking one operation on a target.
	ScopeTargetSelector
	// ScopeTarget covers any payer and any operation on a target.
	ScopeTarget
	// ScopePayer covers one payer calling any target.
	ScopePayer
	// ScopePayerTargetSelector covers one payer invoking one operation on one
	// target. Most specific shape, lowest lookup priority.
	ScopePayerTargetSelector
)

func (k ScopeKind) String() string {
	switch k {
	case ScopePayerTarget:
		return "payer/target"
	case ScopeTargetSelector:
		return "target/selector"
	case ScopeTarget:
		return "target"
	case ScopePayer:
		return "payer"
	case ScopePayerTargetSelector:
		return "payer/target/selector"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ScopeKey addresses exactly one pool. Fields that do not participate in the
// kind stay zero, so the struct is directly usable as a map key: two keys are
// the same pool iff they compare equal.
type ScopeKey struct {
	Kind     ScopeKind
	Payer    common.Address
	Target   common.Address
	Selector Selector
}

// PayerTargetScope returns the key of the (payer, target) pool.
func PayerTargetScope(payer, target common.Address) ScopeKey {
	return ScopeKey{Kind: ScopePayerTarget, Payer: payer, Target: target}
}

// TargetSelectorScope returns the key of the (target, selector) pool.
func TargetSelectorScope(target common.Address, sel Selector) ScopeKey {
	return ScopeKey{Kind: ScopeTargetSelector, Target: target, Selector: sel}
}

// TargetScope returns the key of the (target) pool.
func TargetScope(target common.Address) ScopeKey {
	return ScopeKey{Kind: ScopeTarget, Target: target}
}

// PayerScope returns the key of the (payer) pool.
func PayerScope(payer common.Address) ScopeKey {
	return ScopeKey{Kind: ScopePayer, Payer: payer}
}

// PayerTargetSelectorScope returns the key of the (payer, target, selector) pool.
func PayerTargetSelectorScope(payer, target common.Address, sel Selector) ScopeKey {
	return ScopeKey{Kind: ScopePayerTargetSelector, Payer: payer, Target: target, Selector: sel}
}

func (k ScopeKey) String() string {
	switch k.Kind {
	case ScopePayerTarget:
		return fmt.Sprintf("%s[%s->%s]", k.Kind, k.Payer.Hex(), k.Target.Hex())
	case ScopeTargetSelector:
		return fmt.Sprintf("%s[%s.%s]", k.Kind, k.Target.Hex(), k.Selector.Hex())
	case ScopeTarget:
		return fmt.Sprintf("%s[%s]", k.Kind, k.Target.Hex())
	case ScopePayer:
		return fmt.Sprintf("%s[%s]", k.Kind, k.Payer.Hex())
	case ScopePayerTargetSelector:
		return fmt.Sprintf("%s[%s->%s.%s]", k.Kind, k.Payer.Hex(), k.Target.Hex(), k.Selector.Hex())
	default:
		return k.Kind.String()
	}
}

// Resolve derives the five scope keys that may sponsor a call from payer to
// target with the given calldata, in fixed lookup priority order:
//
//	(payer,target) > (target,selector) > (target) > (payer) > (payer,target,selector)
//
// Coverage checks and fee deduction walk this slice front to back and stop at
// the first pool whose balance suffices. Calldata shorter than one selector
// cannot be attributed to an operation and is rejected outright.
func Resolve(payer, target common.Address, calldata []byte) ([5]ScopeKey, error) {
	var keys [5]ScopeKey
	if len(calldata) < SelectorLength {
		return keys, fmt.Errorf("%w: have %d bytes, need %d", ErrMalformedCalldata, len(calldata), SelectorLength)
	}
	var sel Selector
	copy(sel[:], calldata[:SelectorLength])

	keys[0] = PayerTargetScope(payer, target)
	keys[1] = TargetSelectorScope(target, sel)
	keys[2] = TargetScope(target)
	keys[3] = PayerScope(payer)
	keys[4] = PayerTargetSelectorScope(payer, target, sel)
	return keys, nil
}
