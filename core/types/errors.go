package types

import (
	"github.com/pkg/errors"
)

// Fatal errors abort processing of a single lock event and are never retried.
var (
	ErrMalformedEvent             = errors.New("malformed lock event")
	ErrInvalidEventStructure      = errors.New("invalid lock event structure")
	ErrBlockVerificationFailed    = errors.New("block verification failed")
	ErrSignatureMismatch          = errors.New("transaction signature mismatch")
	ErrIdentityDerivationMismatch = errors.New("asset identity derivation mismatch")
	ErrProgramNotInvoked          = errors.New("bridge program not invoked by transaction")
	ErrTransactionNotFound        = errors.New("transaction not found")
	ErrTransactionFailed          = errors.New("transaction failed on origin chain")
	ErrLockIDMismatch             = errors.New("lock id does not match event fields")
)

// Expected outcomes. A duplicate request or a lock claimed for another
// recipient means replay protection worked.
var (
	ErrRequestIDExists    = errors.New("request id already exists")
	ErrUnauthorizedMinter = errors.New("minter is not the designated recipient")
)

// ErrPendingNotAllowed is returned when pending proofs are configured to wait
// for finality before minting.
var ErrPendingNotAllowed = errors.New("pending proofs are not allowed to mint")

// External unavailability; retried by the caller with backoff.
var (
	ErrOriginUnavailable = errors.New("origin chain unavailable")
	ErrInclusionTimeout  = errors.New("timed out waiting for inclusion")
	// ErrArtifactNotPublished means a mint succeeded but its artifact could
	// not be handed to the sinks yet.
	ErrArtifactNotPublished = errors.New("minted artifact not published")
)

// ErrorClass groups errors by how the monitor should react to them.
type ErrorClass int

const (
	ClassFatal ErrorClass = iota
	ClassPending
	ClassDuplicate
	ClassUnavailable
)

func (c ErrorClass) String() string {
	switch c {
	case ClassPending:
		return "pending"
	case ClassDuplicate:
		return "duplicate"
	case ClassUnavailable:
		return "unavailable"
	default:
		return "fatal"
	}
}

// Classify maps an error returned anywhere in the pipeline to its class.
// Unknown errors are fatal.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrRequestIDExists), errors.Is(err, ErrUnauthorizedMinter):
		return ClassDuplicate
	case errors.Is(err, ErrPendingNotAllowed):
		return ClassPending
	case errors.Is(err, ErrOriginUnavailable), errors.Is(err, ErrInclusionTimeout), errors.Is(err, ErrArtifactNotPublished):
		return ClassUnavailable
	default:
		return ClassFatal
	}
}
