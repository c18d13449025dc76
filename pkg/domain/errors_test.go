package domain

import (
	"errors"
	"testing"
)

func TestKindOfAndPublicMessageOf(t *testing.T) {
	err := ValidationErrorf("bad cidr %q", "nope")
	if KindOf(err) != KindValidation {
		t.Errorf("KindOf() = %v, want KindValidation", KindOf(err))
	}
	if got, want := PublicMessageOf(err), `bad cidr "nope"`; got != want {
		t.Errorf("PublicMessageOf() = %q, want %q", got, want)
	}

	plain := errors.New("boom")
	if KindOf(plain) != KindPersistence {
		t.Errorf("KindOf(plain) = %v, want KindPersistence", KindOf(plain))
	}
	if PublicMessageOf(plain) != "internal error" {
		t.Errorf("PublicMessageOf(plain) = %q, want %q", PublicMessageOf(plain), "internal error")
	}
}

func TestWrapCommandError(t *testing.T) {
	failed := &CommandFailed{Argv: []string{"ip", "route", "add"}, ExitCode: 1, Output: "RTNETLINK answers: File exists"}
	wrapped := WrapCommandError(failed)
	if KindOf(wrapped) != KindCommandFailed {
		t.Errorf("KindOf() = %v, want KindCommandFailed", KindOf(wrapped))
	}
	if PublicMessageOf(wrapped) == failed.Output {
		t.Errorf("public message must not leak command output")
	}
	if !errors.Is(wrapped, failed) && errors.Unwrap(wrapped) != failed {
		t.Errorf("wrapped error should unwrap to the original CommandFailed")
	}

	spawnErr := errors.New("exec: \"openvpn\": executable file not found in $PATH")
	spawnFailed := &CommandSpawnFailed{Argv: []string{"openvpn", "--genkey"}, Err: spawnErr}
	wrappedSpawn := WrapCommandError(spawnFailed)
	if KindOf(wrappedSpawn) != KindCommandSpawnFailed {
		t.Errorf("KindOf() = %v, want KindCommandSpawnFailed", KindOf(wrappedSpawn))
	}
}

func TestErrNoAddressAndPortAvailable(t *testing.T) {
	if KindOf(ErrNoAddressAvailable) != KindNoAddressAvail {
		t.Errorf("ErrNoAddressAvailable kind mismatch")
	}
	if KindOf(ErrNoPortAvailable) != KindNoPortAvail {
		t.Errorf("ErrNoPortAvailable kind mismatch")
	}
}
