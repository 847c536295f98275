// File: internal/bake/checksum.go
// Brief: checksum_self and checksum_deps computation.

package bake

import (
	_ "crypto/sha256" // register sha256 for go-digest
	"fmt"
	"os"
	"sort"

	digest "github.com/opencontainers/go-digest"
)

// ChecksumLength is the number of hex characters kept from a SHA-256 digest.
const ChecksumLength = 12

const (
	selfDomain = "baker.checksum-self.v1"
	depsDomain = "baker.checksum-deps.v1"
)

// ChecksumEngine computes target checksums.
type ChecksumEngine struct {
	digests *ContextDigester
}

// NewChecksumEngine returns an engine sharing the given digest cache. A nil
// digester gets a private one.
func NewChecksumEngine(digests *ContextDigester) *ChecksumEngine {
	if digests == nil {
		digests = NewContextDigester()
	}
	return &ChecksumEngine{digests: digests}
}

// Self hashes the Dockerfile bytes, the build context and the resolved
// build-args. args must already be evaluated.
func (c *ChecksumEngine) Self(t Target, args map[string]string) (string, error) {
	dockerfile := t.DockerfilePath()
	data, err := os.ReadFile(dockerfile)
	if err != nil {
		return "", &ChecksumError{Target: t.ID, Path: dockerfile, Err: err}
	}
	ctxDigest, err := c.digests.Context(t.ContextDir())
	if err != nil {
		return "", &ChecksumError{Target: t.ID, Path: t.ContextDir(), Err: err}
	}

	d := digest.SHA256.Digester()
	h := d.Hash()
	writeField(h, selfDomain)
	writeField(h, digest.SHA256.FromBytes(data).String())
	writeField(h, ctxDigest.String())
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		writeField(h, k)
		writeField(h, args[k])
	}
	return shortDigest(d.Digest()), nil
}

// Deps hashes the checksum_self of every direct dependency. The dependencies
// must already be finalized in store.
func (c *ChecksumEngine) Deps(t Target, store *ChecksumStore) (string, error) {
	selves := make([]string, 0, len(t.DependsOn))
	for _, dep := range t.DependsOn {
		ident, ok := store.Get(dep)
		if !ok {
			return "", &ChecksumError{Target: t.ID, Err: fmt.Errorf("%w: dependency %s has no identity yet", ErrUnresolvedChecksum, dep)}
		}
		selves = append(selves, ident.Self)
	}
	sort.Strings(selves)

	d := digest.SHA256.Digester()
	h := d.Hash()
	writeField(h, depsDomain)
	for _, s := range selves {
		writeField(h, s)
	}
	return shortDigest(d.Digest()), nil
}

// FileHash hashes a file or directory tree for file_hash(path).
func (c *ChecksumEngine) FileHash(path string) (string, error) {
	d, err := c.digests.Path(path)
	if err != nil {
		return "", err
	}
	return shortDigest(d), nil
}

func shortDigest(d digest.Digest) string {
	enc := d.Encoded()
	if len(enc) <= ChecksumLength {
		return enc
	}
	return enc[:ChecksumLength]
}
