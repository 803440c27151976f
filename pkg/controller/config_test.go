package controller

import "testing"

func TestConfigString(t *testing.T) {
	want := "G=5 Z=40 P=120 R=0.6 B=500 S=50"
	if got := DefaultConfig().String(); got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
}

func TestConfigWith(t *testing.T) {
	base := DefaultConfig()
	for _, p := range Params {
		got := base.With(p, -7)
		if v, ok := got.Get(p); !ok || v != -7 {
			t.Errorf("With(%s): Get = %v, %v", p, v, ok)
		}
		if base != DefaultConfig() {
			t.Fatalf("With(%s) mutated receiver", p)
		}
	}
	if got := base.With(Param('Q'), 1); got != base {
		t.Errorf("With(Q) = %+v, want unchanged", got)
	}
}

func TestParamNames(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range Params {
		if !p.Valid() {
			t.Errorf("%s not valid", p)
		}
		if seen[p.Name()] {
			t.Errorf("duplicate name %s", p.Name())
		}
		seen[p.Name()] = true
	}
	if Param('x').Valid() {
		t.Error("x should not be valid")
	}
}

func TestSamplePeriod(t *testing.T) {
	if Ts != 0.001 {
		t.Errorf("Ts = %v, want 0.001", Ts)
	}
}
