package attest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/veilvault/veilvault/pkg/crypto"
	"github.com/veilvault/veilvault/pkg/types"
)

func newBackendServer(t *testing.T, key *crypto.PrivateKey, nonce uint64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req signRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		dataHash, err := types.ParseHash(req.DataHash)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ts := int64(1_700_000_000)
		preimage := SigningHash(req.Operation, dataHash, nonce, ts)
		sig, err := key.SignCompact(preimage[:])
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(signResponse{
			DataHash:  dataHash.String(),
			Nonce:     nonce,
			Timestamp: ts,
			Signature: "0x" + hex.EncodeToString(sig),
		})
	}))
}

func TestHTTPSigner_Attest(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	srv := newBackendServer(t, key, 42)
	defer srv.Close()

	dataHash := crypto.Keccak256([]byte("deposit params"))
	signer := NewHTTPSigner(srv.URL)

	att, err := signer.Attest(context.Background(), "DEPOSIT", dataHash)
	if err != nil {
		t.Fatalf("Attest: %v", err)
	}
	if att.Nonce != 42 {
		t.Errorf("nonce = %d, want 42", att.Nonce)
	}
	if att.DataHash != dataHash {
		t.Errorf("data hash = %s, want %s", att.DataHash, dataHash)
	}
	if err := VerifySigner(att, key.Address()); err != nil {
		t.Errorf("VerifySigner: %v", err)
	}
}

func TestHTTPSigner_RejectsZeroDataHash(t *testing.T) {
	signer := NewHTTPSigner("http://127.0.0.1:0")
	if _, err := signer.Attest(context.Background(), "DEPOSIT", types.Hash{}); !errors.Is(err, ErrEmptyDataHash) {
		t.Errorf("err = %v, want ErrEmptyDataHash", err)
	}
}

func TestHTTPSigner_SignerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(signResponse{Error: "nonce out of sequence"})
	}))
	defer srv.Close()

	signer := NewHTTPSigner(srv.URL)
	_, err := signer.Attest(context.Background(), "SPLIT", crypto.Keccak256([]byte("x")))
	if !errors.Is(err, ErrSignerRejection) {
		t.Errorf("err = %v, want ErrSignerRejection", err)
	}
}

func TestHTTPSigner_HashMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		other := crypto.Keccak256([]byte("something else"))
		json.NewEncoder(w).Encode(signResponse{DataHash: other.String()})
	}))
	defer srv.Close()

	signer := NewHTTPSigner(srv.URL)
	_, err := signer.Attest(context.Background(), "SPLIT", crypto.Keccak256([]byte("x")))
	if !errors.Is(err, ErrHashMismatch) {
		t.Errorf("err = %v, want ErrHashMismatch", err)
	}
}

func TestHTTPSigner_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // closed immediately, connection refused

	signer := NewHTTPSigner(srv.URL)
	if _, err := signer.Attest(context.Background(), "DEPOSIT", crypto.Keccak256([]byte("x"))); err == nil {
		t.Error("expected error for unreachable signer")
	}
}

func TestVerifySigner_WrongBackend(t *testing.T) {
	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()

	dataHash := crypto.Keccak256([]byte("params"))
	preimage := SigningHash("WITHDRAW", dataHash, 7, 1_700_000_000)
	sig, err := key.SignCompact(preimage[:])
	if err != nil {
		t.Fatalf("SignCompact: %v", err)
	}

	att := &Attestation{
		Operation: "WITHDRAW",
		DataHash:  dataHash,
		Nonce:     7,
		Timestamp: 1_700_000_000,
		Signature: sig,
	}
	if err := VerifySigner(att, key.Address()); err != nil {
		t.Errorf("VerifySigner with correct backend: %v", err)
	}
	if err := VerifySigner(att, other.Address()); !errors.Is(err, ErrSignerMismatch) {
		t.Errorf("err = %v, want ErrSignerMismatch", err)
	}

	att.Signature = sig[:10]
	if err := VerifySigner(att, key.Address()); !errors.Is(err, ErrBadSignature) {
		t.Errorf("err = %v, want ErrBadSignature", err)
	}
}
