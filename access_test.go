package treecrdt

import (
	"errors"
	"testing"
)

func TestAllowAllAccess_NeverDenies(t *testing.T) {
	var hook AccessHook = AllowAllAccess{}
	if err := hook.Authorize(Operation{Kind: KindDelete}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestAccessHookFunc_DelegatesToFunction(t *testing.T) {
	denied := errors.New("no deletes allowed")
	var hook AccessHook = AccessHookFunc(func(op Operation) error {
		if op.Kind == KindDelete {
			return denied
		}
		return nil
	})

	if err := hook.Authorize(Operation{Kind: KindInsert}); err != nil {
		t.Fatalf("insert should be allowed, got %v", err)
	}
	if err := hook.Authorize(Operation{Kind: KindDelete}); !errors.Is(err, denied) {
		t.Fatalf("expected delete to be denied with the sentinel, got %v", err)
	}
}
