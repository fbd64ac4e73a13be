package identity

import (
	"os"
	"testing"
)

func TestGenerateAndPersistRoundTrip(t *testing.T) {
	dir := t.TempDir()

	id1, err := Load(dir)
	if err != nil {
		t.Fatalf("Load (generate): %v", err)
	}
	fp1 := id1.Fingerprint()

	id2, err := Load(dir)
	if err != nil {
		t.Fatalf("Load (existing): %v", err)
	}
	fp2 := id2.Fingerprint()

	if fp1 != fp2 {
		t.Fatalf("fingerprint mismatch after reload: %s != %s", fp1, fp2)
	}
}

func TestFingerprintFormat(t *testing.T) {
	dir := t.TempDir()
	id, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	fp := id.Fingerprint()
	// 32 bytes -> 32 two-char hex groups joined by 31 colons.
	wantLen := 32*2 + 31
	if len(fp) != wantLen {
		t.Fatalf("fingerprint length = %d, want %d (%q)", len(fp), wantLen, fp)
	}
}

func TestRegeneratesWhenKeyMissing(t *testing.T) {
	dir := t.TempDir()
	id1, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	keyPath := dir + "/" + keyFileName
	if err := os.Remove(keyPath); err != nil {
		t.Fatalf("remove key: %v", err)
	}

	id2, err := Load(dir)
	if err != nil {
		t.Fatalf("Load after key removal: %v", err)
	}
	if id1.Fingerprint() == id2.Fingerprint() {
		t.Fatalf("expected a fresh identity after key removal, got same fingerprint")
	}
}
