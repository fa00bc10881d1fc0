package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, root, content string) {
	t.Helper()
	dir := filepath.Join(root, ".easel")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_Missing(t *testing.T) {
	d := t.TempDir()

	res := Load(d)
	if res.Found {
		t.Fatalf("expected not found")
	}
	if res.ParseError != nil {
		t.Fatalf("unexpected parse error: %v", res.ParseError)
	}
	def := Default()
	if res.Config.Midjourney.MaxPolls != def.Midjourney.MaxPolls || def.Midjourney.MaxPolls != 120 {
		t.Fatalf("unexpected default max polls: %d", res.Config.Midjourney.MaxPolls)
	}
	if res.Config.Midjourney.PollIntervalMS != 5000 {
		t.Fatalf("unexpected default poll interval: %d", res.Config.Midjourney.PollIntervalMS)
	}
	if res.Config.Gemini.Model != "gemini-2.0-flash-exp" {
		t.Fatalf("unexpected gemini model: %q", res.Config.Gemini.Model)
	}
}

func TestLoad_ValidOverrides(t *testing.T) {
	d := t.TempDir()
	writeConfig(t, d, `
[midjourney]
api_key = "mj-key"
api_base_url = "https://mj.example"
mode = "slow"

[midjourney.translation]
enabled = true
base_url = "https://llm.example"

[[siliconflow.keys]]
key = "a"

[[siliconflow.keys]]
key = "b"
disabled = true

[bot]
masters = [10001, 10002]
`)
	res := Load(d)
	if !res.Found {
		t.Fatalf("expected found true")
	}
	if res.ParseError != nil {
		t.Fatalf("unexpected parse error: %v", res.ParseError)
	}
	c := res.Config
	if c.Midjourney.APIKey != "mj-key" || c.Midjourney.Mode != ModeSlow {
		t.Fatalf("midjourney overrides not applied: %+v", c.Midjourney)
	}
	if !c.Midjourney.Translation.Enabled || c.Midjourney.Translation.Model != Default().Midjourney.Translation.Model {
		t.Fatalf("translation merge wrong: %+v", c.Midjourney.Translation)
	}
	if len(c.SiliconFlow.Keys) != 2 || !c.SiliconFlow.Keys[1].Disabled {
		t.Fatalf("keys not applied: %+v", c.SiliconFlow.Keys)
	}
	if c.SiliconFlow.Width != 1024 {
		t.Fatalf("default width lost: %d", c.SiliconFlow.Width)
	}
	if len(c.Bot.Masters) != 2 || c.Bot.Masters[0] != 10001 {
		t.Fatalf("masters not applied: %v", c.Bot.Masters)
	}
}

func TestLoad_InvalidToml(t *testing.T) {
	d := t.TempDir()
	writeConfig(t, d, "x = [1,\n")
	res := Load(d)
	if !res.Found {
		t.Fatalf("expected found true")
	}
	if res.ParseError == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoad_InvalidMode(t *testing.T) {
	d := t.TempDir()
	writeConfig(t, d, "[midjourney]\nmode = \"turbo\"\n")
	res := Load(d)
	if !errors.Is(res.ParseError, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", res.ParseError)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	d := t.TempDir()
	cfg := Default()
	cfg.Midjourney.APIKey = "k"
	cfg.Midjourney.Mode = ModeSlow
	cfg.SiliconFlow.GeneratePrompt = true
	cfg.SiliconFlow.Keys = []Credential{{Key: "x"}}
	if err := Save(d, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	res := Load(d)
	if res.ParseError != nil {
		t.Fatalf("reload: %v", res.ParseError)
	}
	got := res.Config
	if got.Midjourney.APIKey != "k" || got.Midjourney.Mode != ModeSlow {
		t.Fatalf("midjourney not persisted: %+v", got.Midjourney)
	}
	if !got.SiliconFlow.GeneratePrompt || len(got.SiliconFlow.Keys) != 1 {
		t.Fatalf("siliconflow not persisted: %+v", got.SiliconFlow)
	}
}

func TestManager_UpdatePersists(t *testing.T) {
	d := t.TempDir()
	m := NewManager(d, Default())

	snap := m.Get()
	if err := m.Update(func(c *Config) {
		c.SiliconFlow.Keys = append(c.SiliconFlow.Keys, Credential{Key: "new"})
		c.Midjourney.Mode = ModeSlow
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(snap.SiliconFlow.Keys) != 0 {
		t.Fatalf("earlier snapshot mutated: %+v", snap.SiliconFlow.Keys)
	}
	if got := m.Get(); got.Midjourney.Mode != ModeSlow || len(got.SiliconFlow.Keys) != 1 {
		t.Fatalf("live config not updated: %+v", got)
	}
	if res := Load(d); !res.Found || res.Config.Midjourney.Mode != ModeSlow {
		t.Fatalf("update not saved: %+v", res)
	}
}

func TestManager_SaveFailureKeepsOld(t *testing.T) {
	m := NewManager(t.TempDir(), Default())
	m.save = func(string, Config) error { return errors.New("disk full") }
	if err := m.Update(func(c *Config) { c.Midjourney.APIKey = "x" }); err == nil {
		t.Fatalf("expected error")
	}
	if m.Get().Midjourney.APIKey != "" {
		t.Fatalf("config changed despite save failure")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"EASEL_MJ_API_KEY":             " env-key ",
		"EASEL_SF_KEYS":                "a，b, ,c",
		"EASEL_SERVER_PORT":            "9000",
		"EASEL_MJ_TRANSLATION_ENABLED": "true",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	cfg, err := ApplyEnv(Default(), lookup)
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Midjourney.APIKey != "env-key" {
		t.Fatalf("api key: %q", cfg.Midjourney.APIKey)
	}
	if len(cfg.SiliconFlow.Keys) != 3 || cfg.SiliconFlow.Keys[2].Key != "c" {
		t.Fatalf("sf keys: %+v", cfg.SiliconFlow.Keys)
	}
	if cfg.Server.Port != 9000 || !cfg.Midjourney.Translation.Enabled {
		t.Fatalf("port/flag not applied: %+v", cfg)
	}

	env["EASEL_SERVER_PORT"] = "nope"
	if _, err := ApplyEnv(Default(), lookup); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	if err := LoadDotEnv(t.TempDir()); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}
