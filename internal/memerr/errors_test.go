package memerr

import (
	"errors"
	"testing"
)

func TestKindOfDefaultsToInternal(t *testing.T) {
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatal("expected plain errors to classify as Internal")
	}
}

func TestKindOfUnwraps(t *testing.T) {
	base := New(KindNotFound, "no such memory")
	wrapped := errors.New("context: " + base.Error())
	if KindOf(wrapped) == KindNotFound {
		t.Fatal("plain string wrapping should not classify, only memerr.Wrap should")
	}
	if !Is(Wrap(KindTimeout, "probe", base), KindTimeout) {
		t.Fatal("Wrap should report its own kind, not the cause's")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindInvalidInput:       400,
		KindUnauthorized:       401,
		KindNotFound:           404,
		KindDimensionMismatch:  409,
		KindResourceExhausted:  429,
		KindInternal:           500,
		KindBackendUnavailable: 503,
		KindTimeout:            504,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestJSONRPCCodeDistinctPerKind(t *testing.T) {
	kinds := []Kind{
		KindInvalidInput, KindNotFound, KindBackendUnavailable,
		KindTimeout, KindDimensionMismatch, KindUnauthorized, KindResourceExhausted,
	}
	seen := make(map[int]Kind)
	for _, k := range kinds {
		code := JSONRPCCode(k)
		if other, ok := seen[code]; ok {
			t.Fatalf("code %d reused by %s and %s", code, other, k)
		}
		seen[code] = k
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(KindBackendUnavailable, "sqlite open failed", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to see through Wrap to the cause")
	}
}
