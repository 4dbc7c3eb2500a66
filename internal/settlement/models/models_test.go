package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestSettlement() *Settlement {
	return NewSettlement("asset-1", "buyer", "seller", decimal.NewFromInt(10_000), now.Add(72*time.Hour), "0xtrack", now)
}

func TestValidateOpen(t *testing.T) {
	deadline := now.Add(time.Hour)
	assert.NoError(t, ValidateOpen("buyer", "seller", decimal.NewFromInt(1), deadline, now))
	assert.ErrorIs(t, ValidateOpen("buyer", "seller", decimal.Zero, deadline, now), ErrNoPayment)
	assert.ErrorIs(t, ValidateOpen("buyer", "seller", decimal.NewFromInt(-1), deadline, now), ErrNoPayment)
	assert.ErrorIs(t, ValidateOpen("buyer", "seller", decimal.NewFromInt(1), now, now), ErrInvalidDeadline)
	assert.ErrorIs(t, ValidateOpen("buyer", "buyer", decimal.NewFromInt(1), deadline, now), ErrSelfDealing)
}

func TestConfirmationTransitions(t *testing.T) {
	t.Run("seller ships then buyer receives", func(t *testing.T) {
		s := newTestSettlement()
		s.ApplyConfirmation("seller", RoleSeller, "0xship", now)
		assert.Equal(t, StatusInTransit, s.Status)
		s.ApplyConfirmation("buyer", RoleBuyer, "0xrecv", now)
		assert.Equal(t, StatusDelivered, s.Status)
		require.Len(t, s.Confirmations, 2)
		assert.True(t, s.Confirmations[0].IsValid)
	})

	t.Run("buyer confirmation while pending delivers directly", func(t *testing.T) {
		s := newTestSettlement()
		s.ApplyConfirmation("buyer", RoleBuyer, "0xrecv", now)
		assert.Equal(t, StatusDelivered, s.Status)
	})

	t.Run("seller confirmation after delivery is recorded only", func(t *testing.T) {
		s := newTestSettlement()
		s.ApplyConfirmation("buyer", RoleBuyer, "0xrecv", now)
		s.ApplyConfirmation("oracle", RoleOracle, "0xscan", now)
		assert.Equal(t, StatusDelivered, s.Status)
		assert.Len(t, s.Confirmations, 2)
	})
}

func TestDisputeAndSettle(t *testing.T) {
	t.Run("only parties may dispute", func(t *testing.T) {
		s := newTestSettlement()
		assert.ErrorIs(t, s.CanDispute("stranger"), ErrNotParticipant)
		assert.NoError(t, s.CanDispute("seller"))
		s.ApplyDispute(now)
		assert.ErrorIs(t, s.CanDispute("buyer"), ErrSettlementClosed)
		assert.ErrorIs(t, s.CanConfirm(), ErrSettlementClosed)
		assert.ErrorIs(t, s.CanSettle(), ErrSettlementClosed)
	})

	t.Run("settle requires delivery", func(t *testing.T) {
		s := newTestSettlement()
		assert.ErrorIs(t, s.CanSettle(), ErrNotDelivered)
		s.ApplyConfirmation("buyer", RoleBuyer, "0xrecv", now)
		require.NoError(t, s.CanSettle())
	})

	t.Run("settle withholds one percent", func(t *testing.T) {
		s := newTestSettlement()
		s.ApplyConfirmation("buyer", RoleBuyer, "0xrecv", now)
		s.ApplySettle(100, now)
		assert.Equal(t, StatusSettled, s.Status)
		assert.True(t, s.Fee.Equal(decimal.NewFromInt(100)))
		assert.True(t, s.Payout.Equal(decimal.NewFromInt(9_900)))
		assert.ErrorIs(t, s.CanSettle(), ErrSettlementClosed)
	})
}

func TestClone(t *testing.T) {
	s := newTestSettlement()
	s.ApplyConfirmation("seller", RoleSeller, "0xship", now)
	c := s.Clone()
	c.Confirmations[0].ProofHash = "changed"
	assert.Equal(t, "0xship", s.Confirmations[0].ProofHash)
}
