package store

import (
	"errors"
	"testing"
)

func TestSettingsRepository(t *testing.T) {
	s := newTestStore(t)
	repo := s.Settings()

	if _, err := repo.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}

	if err := repo.Set("name", "first"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := repo.Set("name", "second"); err != nil {
		t.Fatalf("Set() overwrite error: %v", err)
	}
	got, err := repo.Get("name")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != "second" {
		t.Errorf("Get() = %q, want %q", got, "second")
	}
}

func TestSettingsRepository_Bool(t *testing.T) {
	s := newTestStore(t)
	repo := s.Settings()

	if !repo.GetBool(SettingRecording, true) {
		t.Error("unset key should return the default")
	}

	if err := repo.SetBool(SettingRecording, false); err != nil {
		t.Fatalf("SetBool() error: %v", err)
	}
	if repo.GetBool(SettingRecording, true) {
		t.Error("GetBool() = true after SetBool(false)")
	}

	if err := repo.Set(SettingRecording, "garbage"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if !repo.GetBool(SettingRecording, true) {
		t.Error("unparsable value should return the default")
	}
}
