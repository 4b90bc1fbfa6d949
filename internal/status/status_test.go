package status

import "testing"

func TestDeriveStatusOkBelowCoreCount(t *testing.T) {
	if got := deriveStatus(1.0, 1.0, 1.0, 4); got != "ok" {
		t.Errorf("deriveStatus = %q, want ok", got)
	}
}

func TestDeriveStatusWarningAtCoreCount(t *testing.T) {
	if got := deriveStatus(4.0, 4.0, 4.0, 4); got != "warning" {
		t.Errorf("deriveStatus = %q, want warning", got)
	}
}

func TestDeriveStatusCriticalAtDoubleCoreCount(t *testing.T) {
	if got := deriveStatus(8.0, 8.0, 8.0, 4); got != "critical" {
		t.Errorf("deriveStatus = %q, want critical", got)
	}
}

func TestDeriveStatusOkWithUnknownCoreCount(t *testing.T) {
	if got := deriveStatus(100.0, 100.0, 100.0, 0); got != "ok" {
		t.Errorf("deriveStatus with cpuCores=0 = %q, want ok", got)
	}
}

func TestReadLoadAvgFromRealProcFile(t *testing.T) {
	load1, load5, load15, ok := readLoadAvg()
	if !ok {
		t.Fatal("readLoadAvg: want ok=true reading /proc/loadavg on Linux")
	}
	if load1 < 0 || load5 < 0 || load15 < 0 {
		t.Errorf("readLoadAvg = %v/%v/%v, want non-negative", load1, load5, load15)
	}
}

func TestSnapshotPopulatesStatus(t *testing.T) {
	r := New()
	s := r.Snapshot()

	if s.Status == "" {
		t.Error("Snapshot.Status is empty, want ok/warning/critical")
	}
}
