package registry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
)

func TestPushWritesPrimaryThenCopiesOtherTags(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	layoutPath := fakeLayout(t)
	tags := []string{"registry.example.com/app:0123456789ab", "registry.example.com/app:latest"}
	if err := store.RecordBuild("app", tags, layoutPath); err != nil {
		t.Fatalf("RecordBuild: %v", err)
	}

	var written []string
	var copied []string
	var signed []string
	p := NewPusher(store)
	p.writeLayout = func(_ context.Context, path string, ref name.Reference, _ authn.Keychain) error {
		if path != layoutPath {
			t.Fatalf("layout path = %s", path)
		}
		written = append(written, ref.String())
		return nil
	}
	p.copyRef = func(_ context.Context, src, dst string, _ authn.Keychain) error {
		copied = append(copied, src+"->"+dst)
		return nil
	}
	p.sign = func(_ context.Context, ref string, _ io.Writer) error {
		signed = append(signed, ref)
		return nil
	}

	var out bytes.Buffer
	if err := p.Push(context.Background(), tags, PushOptions{Sign: true, Output: &out}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !reflect.DeepEqual(written, []string{tags[0]}) {
		t.Fatalf("written = %v", written)
	}
	if !reflect.DeepEqual(copied, []string{tags[0] + "->" + tags[1]}) {
		t.Fatalf("copied = %v", copied)
	}
	if !reflect.DeepEqual(signed, []string{tags[0]}) {
		t.Fatalf("signed = %v", signed)
	}
	if !strings.Contains(out.String(), "Pushing "+tags[0]) {
		t.Fatalf("missing progress output: %q", out.String())
	}
}

func TestPushRequiresRecordedBuild(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	p := NewPusher(store)
	err := p.Push(context.Background(), []string{"registry.example.com/app:dev"}, PushOptions{})
	if !errors.Is(err, ErrNoRecord) {
		t.Fatalf("expected ErrNoRecord, got %v", err)
	}
	if err := p.Push(context.Background(), nil, PushOptions{}); err == nil {
		t.Fatalf("expected error for empty tag list")
	}
}

func TestPushStopsOnWriteFailure(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	tags := []string{"registry.example.com/app:dev", "registry.example.com/app:latest"}
	if err := store.RecordBuild("app", tags, fakeLayout(t)); err != nil {
		t.Fatalf("RecordBuild: %v", err)
	}
	p := NewPusher(store)
	p.writeLayout = func(context.Context, string, name.Reference, authn.Keychain) error {
		return errors.New("denied")
	}
	p.copyRef = func(context.Context, string, string, authn.Keychain) error {
		t.Fatalf("copy must not run after a failed push")
		return nil
	}
	if err := p.Push(context.Background(), tags, PushOptions{}); err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("expected push error, got %v", err)
	}
}
