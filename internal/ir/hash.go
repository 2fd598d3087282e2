package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainEdge  = "lattice/edge/v1"
	DomainTrace = "lattice/trace/v1"
)

// edgeIDLength is the number of hex characters kept from the edge digest.
const edgeIDLength = 24

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EdgeID computes the content-addressed id of an edge.
//
// An edge is identified by its (source, target, type) triple, which is also
// the uniqueness key: a duplicate creation attempt computes the same id.
// Weight, confidence and evidence are mutable and excluded.
func EdgeID(source, target, edgeType string) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"source": source,
		"target": target,
		"type":   edgeType,
	})
	if err != nil {
		return "", fmt.Errorf("EdgeID: failed to marshal: %w", err)
	}
	return "edge_" + hashWithDomain(DomainEdge, canonical)[:edgeIDLength], nil
}

// MustEdgeID is like EdgeID but panics on error.
// Inputs are plain strings, so marshaling cannot fail in practice.
func MustEdgeID(source, target, edgeType string) string {
	id, err := EdgeID(source, target, edgeType)
	if err != nil {
		panic(err)
	}
	return id
}

// TraceDigest hashes a canonical trace document.
// Two runs of the same scenario must produce the same digest.
func TraceDigest(trace any) (string, error) {
	canonical, err := MarshalCanonical(trace)
	if err != nil {
		return "", fmt.Errorf("TraceDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTrace, canonical), nil
}
