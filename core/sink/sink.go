// Package sink publishes minted artifacts.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"github.com/unicitynetwork/sol-bridge-go/core/util"
)

// Sink receives every artifact the monitor mints.
type Sink interface {
	Publish(ctx context.Context, a *types.MintedArtifact) error
	Close() error
}

const prefixLen = 16

// FileSink writes each artifact to its own JSON file in Dir.
type FileSink struct {
	Dir string
}

var _ Sink = (*FileSink)(nil)

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create artifact dir %s", dir)
	}
	return &FileSink{Dir: dir}, nil
}

// FileName returns the name under which a is stored:
// <lock id prefix>_<signature prefix>.json.
func FileName(a *types.MintedArtifact) (string, error) {
	p, err := a.DecodePayload()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s.json", prefix(p.LockEvent.LockID), prefix(p.OriginTransaction.Signature)), nil
}

func prefix(s string) string {
	if len(s) > prefixLen {
		return s[:prefixLen]
	}
	return s
}

func (s *FileSink) Publish(_ context.Context, a *types.MintedArtifact) error {
	name, err := FileName(a)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	return util.WriteFileAtomic(filepath.Join(s.Dir, name), raw, 0o644)
}

func (s *FileSink) Close() error {
	return nil
}

// Multi publishes to every sink and returns the first error after trying all.
type Multi []Sink

var _ Sink = Multi(nil)

func (m Multi) Publish(ctx context.Context, a *types.MintedArtifact) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
