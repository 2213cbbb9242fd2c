package attest

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/veilvault/veilvault/internal/log"
	"github.com/veilvault/veilvault/pkg/types"
)

const defaultTimeout = 15 * time.Second

// HTTPSigner requests attestations from the backend's signing endpoint
// with a JSON POST.
type HTTPSigner struct {
	endpoint string
	client   *http.Client
	log      zerolog.Logger
}

// NewHTTPSigner creates a signer talking to the given endpoint URL.
func NewHTTPSigner(endpoint string) *HTTPSigner {
	return &HTTPSigner{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultTimeout},
		log:      log.Attest,
	}
}

type signRequest struct {
	Operation string `json:"operation"`
	DataHash  string `json:"data_hash"`
}

type signResponse struct {
	DataHash  string `json:"data_hash"`
	Nonce     uint64 `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

// Attest posts the operation tag and data hash and returns the backend's
// signed attestation.
func (s *HTTPSigner) Attest(ctx context.Context, operation string, dataHash types.Hash) (*Attestation, error) {
	if dataHash.IsZero() {
		return nil, ErrEmptyDataHash
	}

	body, err := json.Marshal(signRequest{Operation: operation, DataHash: dataHash.String()})
	if err != nil {
		return nil, fmt.Errorf("attest: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("attest: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attest: signer unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("attest: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrSignerRejection, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded signResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("attest: decode response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrSignerRejection, decoded.Error)
	}

	returnedHash, err := types.ParseHash(decoded.DataHash)
	if err != nil {
		return nil, fmt.Errorf("attest: bad data hash in response: %w", err)
	}
	if returnedHash != dataHash {
		return nil, ErrHashMismatch
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(decoded.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadSignature, len(sig))
	}

	s.log.Debug().
		Str("operation", operation).
		Str("data_hash", dataHash.String()).
		Uint64("nonce", decoded.Nonce).
		Msg("attestation received")

	return &Attestation{
		Operation: operation,
		DataHash:  dataHash,
		Nonce:     decoded.Nonce,
		Timestamp: decoded.Timestamp,
		Signature: sig,
	}, nil
}
