package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"trustcore/internal/policy"
	id "trustcore/pkg/domain"
)

var now = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func TestInitialStatus(t *testing.T) {
	p := policy.Policy{MinScore: 7500, RequiredAttestors: 1}
	assert.Equal(t, StatusVerified, InitialStatus(p, 8000))
	assert.Equal(t, StatusVerified, InitialStatus(p, 7500))
	assert.Equal(t, StatusPending, InitialStatus(p, 7499))

	p.RequiresManualReview = true
	assert.Equal(t, StatusManualReview, InitialStatus(p, 10000))
}

func TestEvaluate(t *testing.T) {
	r := &Record{AssetID: "a", Score: 8000, Status: StatusVerified, ExpiresAt: now.Add(time.Hour)}

	t.Run("verified before expiry", func(t *testing.T) {
		v := r.Evaluate(now)
		assert.Equal(t, StatusVerified, v.Status)
		assert.True(t, v.Verified)
		assert.EqualValues(t, 8000, v.Score)
	})

	t.Run("expiry boundary is inclusive of expiresAt", func(t *testing.T) {
		assert.True(t, r.Evaluate(now.Add(time.Hour)).Verified)
	})

	t.Run("expired after expiresAt even when verified", func(t *testing.T) {
		v := r.Evaluate(now.Add(time.Hour + time.Second))
		assert.Equal(t, StatusExpired, v.Status)
		assert.False(t, v.Verified)
	})

	t.Run("revoked beats expiry", func(t *testing.T) {
		revoked := *r
		revoked.ApplyRevocation("fraud", now)
		assert.Equal(t, StatusRevoked, revoked.Evaluate(now.Add(48*time.Hour)).Status)
		assert.False(t, revoked.Evaluate(now).Verified)
	})

	t.Run("pending is not verified", func(t *testing.T) {
		pending := &Record{Status: StatusPending, ExpiresAt: now.Add(time.Hour)}
		assert.False(t, pending.Evaluate(now).Verified)
	})
}

func TestReview(t *testing.T) {
	r := &Record{Status: StatusManualReview}
	assert.NoError(t, r.CanReview())
	r.ApplyReview(false, now)
	assert.Equal(t, StatusRejected, r.Status)
	assert.ErrorIs(t, r.CanReview(), ErrNotInManualReview)
}

func TestComputeBundleDigest(t *testing.T) {
	base := &Record{
		AssetID:      "asset-1",
		AssetType:    "gold",
		Owner:        "owner",
		Score:        8000,
		EvidenceHash: "0xabc",
		ExpiresAt:    now,
		Signatures:   []string{"sig-1"},
		AttestorIDs:  []id.AccountID{"att-1"},
	}
	d1 := ComputeBundleDigest(base)
	assert.Len(t, d1, 64)
	assert.Equal(t, d1, ComputeBundleDigest(base), "digest is deterministic")

	changed := *base
	changed.Signatures = []string{"sig-2"}
	assert.NotEqual(t, d1, ComputeBundleDigest(&changed))

	// Field boundaries are length-prefixed, so shifting bytes between
	// adjacent fields changes the digest.
	shifted := *base
	shifted.AssetID = "asset-1g"
	shifted.AssetType = "old"
	assert.NotEqual(t, d1, ComputeBundleDigest(&shifted))
}
