package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// PushOptions controls Pusher.Push.
type PushOptions struct {
	// Sign runs `cosign sign` on the primary reference after the push.
	Sign   bool
	Output io.Writer
}

// Pusher uploads recorded OCI layouts to their registries.
type Pusher struct {
	Records  *Store
	Keychain authn.Keychain

	// Hooks for tests; nil means the go-containerregistry implementation.
	writeLayout func(ctx context.Context, layoutPath string, ref name.Reference, kc authn.Keychain) error
	copyRef     func(ctx context.Context, src, dst string, kc authn.Keychain) error
	sign        func(ctx context.Context, reference string, out io.Writer) error
}

// NewPusher returns a Pusher reading layouts from records and authenticating
// with the default Docker keychain.
func NewPusher(records *Store) *Pusher {
	return &Pusher{Records: records, Keychain: authn.DefaultKeychain}
}

// Push uploads the layout recorded for tags[0] under that reference, then
// copies it to the remaining tags registry-side.
func (p *Pusher) Push(ctx context.Context, tags []string, opts PushOptions) error {
	if len(tags) == 0 {
		return errors.New("no tags to push")
	}
	primary := tags[0]
	rec, err := p.Records.Resolve(primary)
	if err != nil {
		return err
	}
	ref, err := name.ParseReference(primary)
	if err != nil {
		return fmt.Errorf("parse %s: %w", primary, err)
	}
	if opts.Output != nil {
		fmt.Fprintf(opts.Output, "Pushing %s from %s\n", primary, rec.LayoutPath)
	}
	write := p.writeLayout
	if write == nil {
		write = pushLayout
	}
	if err := write(ctx, rec.LayoutPath, ref, p.keychain()); err != nil {
		return fmt.Errorf("push %s: %w", primary, err)
	}
	copyRef := p.copyRef
	if copyRef == nil {
		copyRef = copyReference
	}
	for _, tag := range tags[1:] {
		if opts.Output != nil {
			fmt.Fprintf(opts.Output, "Tagging %s as %s\n", primary, tag)
		}
		if err := copyRef(ctx, primary, tag, p.keychain()); err != nil {
			return fmt.Errorf("tag %s: %w", tag, err)
		}
	}
	if opts.Sign {
		sign := p.sign
		if sign == nil {
			sign = signWithCosign
		}
		if err := sign(ctx, primary, opts.Output); err != nil {
			return fmt.Errorf("sign %s: %w", primary, err)
		}
	}
	return nil
}

func (p *Pusher) keychain() authn.Keychain {
	if p.Keychain == nil {
		return authn.DefaultKeychain
	}
	return p.Keychain
}

func pushLayout(ctx context.Context, layoutPath string, ref name.Reference, kc authn.Keychain) error {
	lp, err := layout.FromPath(layoutPath)
	if err != nil {
		return fmt.Errorf("open OCI layout: %w", err)
	}
	idx, err := lp.ImageIndex()
	if err != nil {
		return fmt.Errorf("load OCI index: %w", err)
	}
	return remote.WriteIndex(ref, idx, remote.WithContext(ctx), remote.WithAuthFromKeychain(kc))
}

func copyReference(ctx context.Context, src, dst string, kc authn.Keychain) error {
	return crane.Copy(src, dst, crane.WithContext(ctx), crane.WithAuthFromKeychain(kc))
}

func signWithCosign(ctx context.Context, reference string, out io.Writer) error {
	if _, err := exec.LookPath("cosign"); err != nil {
		return fmt.Errorf("cosign binary not found in PATH: %w", err)
	}
	cmd := exec.CommandContext(ctx, "cosign", "sign", "--yes", reference)
	if out == nil {
		out = os.Stderr
	}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = os.Environ()
	return cmd.Run()
}
