package telegram

import (
	"path/filepath"
	"testing"
	"time"
)

func TestParseRuntimeConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "bad rpc timeout", raw: `{"app_id":1,"app_hash":"hash","channel_id":5,"rpc_timeout":"bad"}`, wantErr: true},
		{name: "negative retry delay", raw: `{"app_id":1,"app_hash":"hash","channel_id":5,"retry_delay":"-1s"}`, wantErr: true},
		{name: "missing channel", raw: `{"app_id":1,"app_hash":"hash"}`, wantErr: true},
		{name: "missing app hash", raw: `{"app_id":1,"channel_id":5}`, wantErr: true},
		{name: "bad custom reaction", raw: `{"app_id":1,"app_hash":"hash","channel_id":5,"reaction":"custom:x"}`, wantErr: true},
		{name: "empty payload", raw: ``, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if _, err := parseRuntimeConfig([]byte(testCase.raw)); (err != nil) != testCase.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, testCase.wantErr)
			}
		})
	}

	cfg, err := parseRuntimeConfig([]byte(`{"app_id":1,"app_hash":" hash ","channel_id":5,"access_hash":9,"rpc_timeout":"3s"}`))
	if err != nil {
		t.Fatalf("parse runtime config failed: %v", err)
	}
	if cfg.appID != 1 || cfg.appHash != "hash" {
		t.Fatalf("app = %d/%q, want 1/hash", cfg.appID, cfg.appHash)
	}
	if cfg.channelID != 5 || cfg.accessHash != 9 {
		t.Fatalf("channel = %d/%d, want 5/9", cfg.channelID, cfg.accessHash)
	}
	if cfg.rpcTimeout != 3*time.Second || cfg.retryDelay != defaultRetryDelay {
		t.Fatalf("durations = %v/%v", cfg.rpcTimeout, cfg.retryDelay)
	}
	if reactionToEmoji(cfg.reaction) != defaultReaction {
		t.Fatalf("reaction = %q, want default", reactionToEmoji(cfg.reaction))
	}
	if cfg.sessionFile != defaultRuntimeSessionFile || cfg.updateBuffer != 256 {
		t.Fatalf("session/buffer = %q/%d", cfg.sessionFile, cfg.updateBuffer)
	}
}

func TestNewGotdSessionStorage(t *testing.T) {
	t.Parallel()

	sessionPath := filepath.Join(t.TempDir(), "nested", "telegram", "session.json")
	storage, err := newGotdSessionStorage(sessionPath)
	if err != nil {
		t.Fatalf("new gotd session storage failed: %v", err)
	}
	if !filepath.IsAbs(storage.Path) {
		t.Fatalf("session path = %q, want absolute", storage.Path)
	}
	if _, err := newGotdSessionStorage("   "); err == nil {
		t.Fatal("expected empty path error")
	}
}
