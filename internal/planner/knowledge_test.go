package planner

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

const overrideYAML = `platforms:
  Mastodon:
    url: https://mastodon.social
    login_url: https://mastodon.social/auth/sign_in
    auth_fields:
      username: "#user_email"
      password: "#user_password"
      submit: button[type=submit]
    content_limit: 500
  twitter:
    url: https://twitter.example
`

func TestKnowledgeBase_Lookup(t *testing.T) {
	kb := NewKnowledgeBase(nil)

	info, ok := kb.Lookup(" Twitter ")
	if !ok || info.ContentLimit != 280 {
		t.Errorf("Lookup(twitter) = %+v, %v", info, ok)
	}

	info, ok = kb.Lookup("unknown")
	if ok {
		t.Error("Lookup(unknown) reported known")
	}
	if info.AuthFields.Password != genericPlatform.AuthFields.Password {
		t.Errorf("unknown platform should get generic fields, got %+v", info.AuthFields)
	}

	if _, ok := kb.Lookup(""); ok {
		t.Error("empty platform should not be known")
	}
}

func TestKnowledgeBase_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms.yaml")
	if err := os.WriteFile(path, []byte(overrideYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	kb := NewKnowledgeBase(nil)
	if err := kb.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	info, ok := kb.Lookup("mastodon")
	if !ok || info.ContentLimit != 500 || info.AuthFields.Username != "#user_email" {
		t.Errorf("Lookup(mastodon) = %+v, %v", info, ok)
	}
	if info, _ := kb.Lookup("twitter"); info.URL != "https://twitter.example" {
		t.Errorf("override not applied: %+v", info)
	}
	if !slices.Contains(kb.Platforms(), "mastodon") || !slices.Contains(kb.Platforms(), "gmail") {
		t.Errorf("Platforms() = %v", kb.Platforms())
	}

	if err := os.WriteFile(path, []byte("platforms: [not, a, map"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := kb.LoadFile(path); err == nil {
		t.Fatal("LoadFile accepted malformed YAML")
	}
	if _, ok := kb.Lookup("mastodon"); !ok {
		t.Error("failed reload dropped previous overrides")
	}

	if err := kb.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile of missing file should fail")
	}
}

func TestKnowledgeBase_WatchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "platforms.yaml")
	if err := os.WriteFile(path, []byte("platforms: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	kb := NewKnowledgeBase(nil)
	reloaded := make(chan error, 8)
	w, err := kb.WatchFile(path, func(err error) { reloaded <- err })
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer w.Stop()

	// Unrelated files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(overrideYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-reloaded:
		if err != nil {
			t.Fatalf("reload error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if _, ok := kb.Lookup("mastodon"); !ok {
		t.Error("watcher did not apply the new file")
	}
}

func TestKnowledgeWatcher_StopTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms.yaml")
	w, err := NewKnowledgeBase(nil).WatchFile(path, nil)
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	w.Stop()
	w.Stop()
}
