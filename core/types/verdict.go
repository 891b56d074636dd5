package types

// VerdictKind is the outcome of a check that may not be decidable yet.
type VerdictKind int

const (
	VerdictFailed VerdictKind = iota
	VerdictPending
	VerdictVerified
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictVerified:
		return "verified"
	case VerdictPending:
		return "pending"
	default:
		return "failed"
	}
}

// Verdict is a three-way result: Verified, Pending or Failed with a reason.
// Pending is not an error; it means the origin chain cannot answer yet.
type Verdict struct {
	Kind   VerdictKind
	Reason string
}

func Verified(reason string) Verdict { return Verdict{Kind: VerdictVerified, Reason: reason} }
func Pending(reason string) Verdict  { return Verdict{Kind: VerdictPending, Reason: reason} }
func Failed(reason string) Verdict   { return Verdict{Kind: VerdictFailed, Reason: reason} }

func (v Verdict) IsVerified() bool { return v.Kind == VerdictVerified }
func (v Verdict) IsPending() bool  { return v.Kind == VerdictPending }
func (v Verdict) IsFailed() bool   { return v.Kind == VerdictFailed }

func (v Verdict) String() string {
	if v.Reason == "" {
		return v.Kind.String()
	}
	return v.Kind.String() + ": " + v.Reason
}
