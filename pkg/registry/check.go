package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

// RemoteChecker answers whether a tag already exists in its registry with a
// manifest HEAD request.
type RemoteChecker struct {
	Keychain authn.Keychain
	// Insecure allows plain HTTP registries such as a local registry:2.
	Insecure bool

	head func(ref name.Reference, opts ...remote.Option) (*v1.Descriptor, error)
}

// NewRemoteChecker returns a checker using the default Docker keychain.
func NewRemoteChecker() *RemoteChecker {
	return &RemoteChecker{Keychain: authn.DefaultKeychain}
}

// ImageExists returns false for a 404 or MANIFEST_UNKNOWN answer and an error for
// anything else the registry reports.
func (c *RemoteChecker) ImageExists(ctx context.Context, tag string) (bool, error) {
	var nameOpts []name.Option
	if c.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	ref, err := name.ParseReference(tag, nameOpts...)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", tag, err)
	}
	kc := c.Keychain
	if kc == nil {
		kc = authn.DefaultKeychain
	}
	head := c.head
	if head == nil {
		head = remote.Head
	}
	if _, err := head(ref, remote.WithContext(ctx), remote.WithAuthFromKeychain(kc)); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isNotFound(err error) bool {
	var terr *transport.Error
	if !errors.As(err, &terr) {
		return false
	}
	if terr.StatusCode == http.StatusNotFound {
		return true
	}
	for _, diag := range terr.Errors {
		if diag.Code == transport.ManifestUnknownErrorCode || diag.Code == transport.NameUnknownErrorCode {
			return true
		}
	}
	return false
}
