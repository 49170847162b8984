package paramstore

import (
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.pumpworks.dev/fillcore/pid"
)

func TestBoltRoundTrip(t *testing.T) {
	// PidParams -> save -> load yields the original values
	// bit-exactly for finite floats.
	dir := t.TempDir()
	s, err := OpenBolt(filepath.Join(dir, "params.db"))
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()

	want := PidParams{Gains: pid.Gains{Kp: 1.25, Ki: 0.333, Kd: 0.0078125}, Tuned: true}
	test.That(t, s.Save(want), test.ShouldBeNil)

	got, err := s.Load()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, want)
}

func TestBoltNotFoundBeforeFirstSave(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBolt(filepath.Join(dir, "params.db"))
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()

	_, err = s.Load()
	test.That(t, err, test.ShouldEqual, ErrNotFound)
}

func TestLoadOrDefaultsInstallsDefaultsOnNotFound(t *testing.T) {
	mem := &MemStore{}
	got := LoadOrDefaults(mem)
	test.That(t, got, test.ShouldResemble, Defaults)
}

func TestLoadOrDefaultsPassesThroughSaved(t *testing.T) {
	mem := &MemStore{}
	want := PidParams{Gains: pid.Gains{Kp: 9, Ki: 8, Kd: 7}, Tuned: true}
	test.That(t, mem.Save(want), test.ShouldBeNil)
	got := LoadOrDefaults(mem)
	test.That(t, got, test.ShouldResemble, want)
}
