package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testCreds() Credentials {
	return Credentials{
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		AccessToken:    "at",
		AccessSecret:   "as",
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptCredentials(testCreds(), "hunter2")
	if err != nil {
		t.Fatalf("EncryptCredentials: %v", err)
	}
	if strings.Contains(string(blob), "ck") {
		t.Error("ciphertext blob leaks plaintext credential")
	}

	got, err := DecryptCredentials(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptCredentials: %v", err)
	}
	if got != testCreds() {
		t.Errorf("round trip = %+v", got)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptCredentials(testCreds(), "hunter2")
	if err != nil {
		t.Fatalf("EncryptCredentials: %v", err)
	}
	if _, err := DecryptCredentials(blob, "wrong"); err == nil {
		t.Fatal("decryption with wrong password should fail")
	}
}

func TestEncryptRejectsIncompleteBundle(t *testing.T) {
	_, err := EncryptCredentials(Credentials{ConsumerKey: "ck"}, "pw")
	if err == nil {
		t.Fatal("incomplete credentials should be rejected")
	}
}

func TestLoadCredentials(t *testing.T) {
	t.Run("plain wins", func(t *testing.T) {
		got, err := LoadCredentials(CredentialConfig{Plain: testCreds()})
		if err != nil {
			t.Fatalf("LoadCredentials: %v", err)
		}
		if got != testCreds() {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("encrypted file", func(t *testing.T) {
		blob, err := EncryptCredentials(testCreds(), "pw")
		if err != nil {
			t.Fatalf("EncryptCredentials: %v", err)
		}
		path := filepath.Join(t.TempDir(), "creds.json")
		if err := os.WriteFile(path, blob, 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}

		got, err := LoadCredentials(CredentialConfig{EncryptedPath: path, Password: "pw"})
		if err != nil {
			t.Fatalf("LoadCredentials: %v", err)
		}
		if got != testCreds() {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("no source", func(t *testing.T) {
		if _, err := LoadCredentials(CredentialConfig{}); err == nil {
			t.Fatal("no configured source should fail")
		}
	})
}
