package signer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"
	testPkh        = "tz1VSUr8wwNhLAzempoch5d6hLRiTh8Cjcjb"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvPrivateKey, EnvPrivateKeyFile, EnvKeystoreDir, EnvKeystorePassword, EnvKeystorePasswordFile} {
		t.Setenv(k, "")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestGetKeysFromEnvHex(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrivateKey, testPrivateKey)
	o, err := NewFromEnv(KeySourceEnv, "")
	if err != nil {
		t.Fatalf("NewFromEnv failed: %v", err)
	}
	if !o.HasKeyMaterial() {
		t.Fatal("expected key material")
	}
	keys, err := o.GetKeys(context.Background(), "", testPkh)
	if err != nil {
		t.Fatalf("GetKeys failed: %v", err)
	}
	if keys.Pkh != testPkh || keys.PrivateKey == nil {
		t.Fatalf("unexpected keys: %v", keys)
	}
	if !strings.HasPrefix(keys.PublicKey, "0x") || len(keys.PublicKey) != 2+66 {
		t.Fatalf("unexpected compressed public key %q", keys.PublicKey)
	}
}

func TestGetKeysFromEnvFile(t *testing.T) {
	clearEnv(t)
	keyFile := filepath.Join(t.TempDir(), "key.txt")
	if err := os.WriteFile(keyFile, []byte(testPrivateKey+"\n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	t.Setenv(EnvPrivateKeyFile, keyFile)

	o, err := NewFromEnv(KeySourceFile, "")
	if err != nil {
		t.Fatalf("NewFromEnv failed: %v", err)
	}
	if _, err := o.GetKeys(context.Background(), "", testPkh); err != nil {
		t.Fatalf("GetKeys failed: %v", err)
	}
}

func TestAutoUsesDefaultKeyFile(t *testing.T) {
	clearEnv(t)
	cfgDir := t.TempDir()
	keyDir := filepath.Join(cfgDir, "sendflow")
	if err := os.MkdirAll(keyDir, 0o755); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(keyDir, "key.hex"), []byte(testPrivateKey), 0o644); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	t.Setenv("XDG_CONFIG_HOME", cfgDir)

	o, err := NewFromEnv(KeySourceAuto, "")
	if err != nil {
		t.Fatalf("NewFromEnv failed: %v", err)
	}
	if _, err := o.GetKeys(context.Background(), "", testPkh); err != nil {
		t.Fatalf("expected auto key-source to use default key path: %v", err)
	}
}

func TestGetKeysFromKeystoreDir(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	pk, err := crypto.HexToECDSA(testPrivateKey)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	key := &keystore.Key{Address: crypto.PubkeyToAddress(pk.PublicKey), PrivateKey: pk}
	blob, err := keystore.EncryptKey(key, "hunter2", keystore.LightScryptN, keystore.LightScryptP)
	if err != nil {
		t.Fatalf("encrypt key: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, testPkh+".json"), blob, 0o600); err != nil {
		t.Fatalf("write keystore: %v", err)
	}
	t.Setenv(EnvKeystoreDir, dir)

	o, err := NewFromEnv(KeySourceKeystore, "")
	if err != nil {
		t.Fatalf("NewFromEnv failed: %v", err)
	}
	if _, err := o.GetKeys(context.Background(), "", testPkh); err == nil {
		t.Fatal("expected missing password error")
	}
	keys, err := o.GetKeys(context.Background(), "hunter2", testPkh)
	if err != nil {
		t.Fatalf("GetKeys with passphrase failed: %v", err)
	}
	if keys.PrivateKey.D.Cmp(pk.D) != 0 {
		t.Fatal("decrypted key does not match")
	}
	if _, err := o.GetKeys(context.Background(), "hunter2", "tz1other"); err == nil {
		t.Fatal("expected error for account without keystore")
	}
	if _, err := o.GetKeys(context.Background(), "hunter2", "../escape"); err == nil {
		t.Fatal("expected error for path-like account")
	}
}

func TestPrivateKeyOverrideWinsOverFileSource(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrivateKeyFile, "/tmp/does-not-exist")
	o, err := NewFromEnv(KeySourceFile, testPrivateKey)
	if err != nil {
		t.Fatalf("NewFromEnv failed: %v", err)
	}
	if _, err := o.GetKeys(context.Background(), "", testPkh); err != nil {
		t.Fatalf("expected private key override to win over file key-source: %v", err)
	}
}

func TestDefaultPrivateKeyPathUsesXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/sendflow-config-home")
	got := defaultPrivateKeyPath()
	want := "/tmp/sendflow-config-home/sendflow/key.hex"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestMissingKeyErrorIncludesHints(t *testing.T) {
	clearEnv(t)
	o, err := NewFromEnv(KeySourceAuto, "")
	if err != nil {
		t.Fatalf("NewFromEnv failed: %v", err)
	}
	if o.HasKeyMaterial() {
		t.Fatal("expected no key material")
	}
	_, err = o.GetKeys(context.Background(), "", testPkh)
	if err == nil {
		t.Fatal("expected missing key error")
	}
	msg := err.Error()
	if !strings.Contains(msg, defaultPrivateKeyHintPath) || !strings.Contains(msg, "--private-key") {
		t.Fatalf("missing key message lacks hints: %s", msg)
	}
}

func TestUnsupportedKeySource(t *testing.T) {
	if _, err := NewFromEnv("ledger", ""); err == nil {
		t.Fatal("expected unsupported key source error")
	}
}
