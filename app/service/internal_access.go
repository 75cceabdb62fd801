package service

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrInvalidInternalAPIKey = errors.New("invalid internal api key")

// InternalAccessService authenticates sibling services calling over gRPC.
type InternalAccessService struct {
	keyHashes [][]byte
}

// NewInternalAccessService takes sha256 hex digests of the accepted keys.
func NewInternalAccessService(keyHashes []string) *InternalAccessService {
	hashes := make([][]byte, 0, len(keyHashes))
	for _, h := range keyHashes {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		hashes = append(hashes, []byte(h))
	}
	return &InternalAccessService{keyHashes: hashes}
}

func (s *InternalAccessService) ValidateAPIKey(apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ErrInvalidInternalAPIKey
	}

	presented := []byte(HashAPIKey(apiKey))
	matched := 0
	for _, h := range s.keyHashes {
		matched |= subtle.ConstantTimeCompare(presented, h)
	}
	if matched != 1 {
		return ErrInvalidInternalAPIKey
	}
	return nil
}

func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
