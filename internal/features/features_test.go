package features

import "testing"

func TestTryEnableClaimsOnce(t *testing.T) {
	m := NewDefaultManager(false)

	if !m.TryEnable(FeatureMaintenanceMode) {
		t.Fatal("expected first claim to succeed")
	}
	if m.TryEnable(FeatureMaintenanceMode) {
		t.Fatal("expected second claim to fail while held")
	}

	m.Disable(FeatureMaintenanceMode)
	if !m.TryEnable(FeatureMaintenanceMode) {
		t.Error("expected claim to succeed after release")
	}

	if m.TryEnable("unknown") {
		t.Error("unregistered flags cannot be claimed")
	}
}

func TestDefaultManagerFlags(t *testing.T) {
	m := NewDefaultManager(true)

	if !m.IsEnabled(FeatureBenefitNotifications) {
		t.Error("expected notifications to follow the constructor argument")
	}
	if m.IsEnabled(FeatureMaintenanceMode) {
		t.Error("maintenance mode must start off")
	}
	if got := len(m.GetAll()); got != 2 {
		t.Errorf("expected 2 flags, got %d", got)
	}
}
