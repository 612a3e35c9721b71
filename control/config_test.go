package control_test

import (
	"testing"

	"github.com/momentics/emukern/control"
)

func TestConfigStoreSnapshotAndDefaults(t *testing.T) {
	cs := control.NewConfigStore()
	cs.SetConfig(map[string]any{control.KeyCoreCount: 4, control.KeyPinHost: true})

	if got := cs.GetInt(control.KeyCoreCount, 1); got != 4 {
		t.Errorf("GetInt = %d, want 4", got)
	}
	if got := cs.GetInt(control.KeySliceCycles, 99); got != 99 {
		t.Errorf("GetInt default = %d, want 99", got)
	}
	if !cs.GetBool(control.KeyPinHost, false) {
		t.Error("GetBool = false, want true")
	}
	if snap := cs.GetSnapshot(); len(snap) != 2 {
		t.Errorf("snapshot size = %d, want 2", len(snap))
	}
}

func TestConfigStoreReloadListener(t *testing.T) {
	cs := control.NewConfigStore()
	calls := 0
	cs.OnReload(func() { calls++ })
	cs.SetConfig(map[string]any{"k": 1})
	cs.SetConfig(map[string]any{"k": 2})
	if calls != 2 {
		t.Errorf("reload calls = %d, want 2", calls)
	}
}

func TestMetricsCounters(t *testing.T) {
	mr := control.NewMetricsRegistry()
	mr.Inc("ctx", 2)
	mr.Inc("ctx", 3)
	mr.Set("cores", 4)

	if got := mr.Counter("ctx"); got != 5 {
		t.Errorf("counter = %d, want 5", got)
	}
	snap := mr.GetSnapshot()
	if snap["ctx"] != int64(5) || snap["cores"] != 4 {
		t.Errorf("snapshot = %v", snap)
	}
}
