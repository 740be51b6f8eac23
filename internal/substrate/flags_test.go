package substrate

import "testing"

func TestFlagAlwaysOnOff(t *testing.T) {
	r := NewFlagRegistry()
	r.Set(Flag{Name: "a", Strategy: StrategyAlwaysOn})
	r.Set(Flag{Name: "b", Strategy: StrategyAlwaysOff})

	if !r.IsEnabled("a", "anything") {
		t.Fatalf("expected ALWAYS_ON to be enabled")
	}
	if r.IsEnabled("b", "anything") {
		t.Fatalf("expected ALWAYS_OFF to be disabled")
	}
}

func TestFlagUnknownIsDisabled(t *testing.T) {
	r := NewFlagRegistry()
	if r.IsEnabled("nonexistent", "x") {
		t.Fatalf("unknown flag must evaluate to false")
	}
}

func TestFlagWhitelist(t *testing.T) {
	r := NewFlagRegistry()
	r.Set(Flag{Name: "w", Strategy: StrategyWhitelist, Whitelist: []string{"BTCZAR"}})

	if !r.IsEnabled("w", "BTCZAR") {
		t.Fatalf("expected whitelisted subject to be enabled")
	}
	if r.IsEnabled("w", "ETHZAR") {
		t.Fatalf("expected non-whitelisted subject to be disabled")
	}
}

func TestFlagPercentageIsDeterministic(t *testing.T) {
	r := NewFlagRegistry()
	r.Set(Flag{Name: "p", Strategy: StrategyPercentage, Percentage: 50})

	first := r.IsEnabled("p", "BTCZAR")
	second := r.IsEnabled("p", "BTCZAR")
	if first != second {
		t.Fatalf("expected percentage bucketing to be stable across calls for the same subject")
	}
}

func TestFlagPercentageZeroAndHundred(t *testing.T) {
	r := NewFlagRegistry()
	r.Set(Flag{Name: "none", Strategy: StrategyPercentage, Percentage: 0})
	r.Set(Flag{Name: "all", Strategy: StrategyPercentage, Percentage: 100})

	if r.IsEnabled("none", "anything") {
		t.Fatalf("expected 0%% rollout to always be disabled")
	}
	if !r.IsEnabled("all", "anything") {
		t.Fatalf("expected 100%% rollout to always be enabled")
	}
}

func TestFlagKillSwitch(t *testing.T) {
	r := NewFlagRegistry()
	r.Set(Flag{Name: "k", Strategy: StrategyKillSwitch})

	if !r.IsEnabled("k", "x") {
		t.Fatalf("expected kill switch to default enabled")
	}
	r.Kill("k")
	if r.IsEnabled("k", "x") {
		t.Fatalf("expected kill switch to disable once killed")
	}
	r.ForceReset("k")
	if !r.IsEnabled("k", "x") {
		t.Fatalf("expected kill switch to re-enable after reset")
	}
}
