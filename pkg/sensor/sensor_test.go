package sensor

import (
	"testing"

	"github.com/doorman-core/doorman/pkg/guard"
	"github.com/rs/zerolog"
)

func TestApplyPayloads(t *testing.T) {
	st := guard.NewState()
	l := &Listener{State: st, Log: zerolog.Nop()}

	if err := l.applyT1Threshold("-12.5"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := st.T1Threshold(); v != -12.5 {
		t.Fatalf("expected -12.5, got %v", v)
	}

	if err := l.applyT2Threshold(" -6\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := st.T2Threshold(); v != -6 {
		t.Fatalf("expected -6, got %v", v)
	}

	if err := l.applyUnderAttack("1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.UnderAttack() {
		t.Fatalf("expected under attack")
	}
	if err := l.applyUnderAttack("0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.UnderAttack() {
		t.Fatalf("expected attack mode cleared")
	}
}

func TestApplyRejectsGarbage(t *testing.T) {
	st := guard.NewState()
	l := &Listener{State: st, Log: zerolog.Nop()}

	if err := l.applyT1Threshold("down"); err == nil {
		t.Fatalf("expected error")
	}
	if v := st.T1Threshold(); v != -10 {
		t.Fatalf("threshold must be unchanged on a bad payload, got %v", v)
	}
	if err := l.applyUnderAttack("1.5"); err == nil {
		t.Fatalf("expected error")
	}
}
