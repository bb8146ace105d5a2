package contracts_test

import (
	"context"
	"sync"
	"testing"

	"github.com/mbd888/krishiconnect/internal/contracts"
	"github.com/mbd888/krishiconnect/internal/escrow"
	"github.com/mbd888/krishiconnect/internal/ledger"
	"github.com/mbd888/krishiconnect/internal/negotiation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ongoingMilestoneContract proposes qty x price on milestone terms and has
// the farmer accept it.
func ongoingMilestoneContract(t *testing.T, f *fixture, qty, price string) *contracts.Contract {
	t.Helper()
	c := f.propose(t, qty, price, contracts.TermsMilestone)
	accepted, err := f.svc.Accept(context.Background(), farmer, c.ID)
	require.NoError(t, err)
	return accepted
}

func define(t *testing.T, f *fixture, contractID string, inputs ...contracts.MilestoneInput) []*contracts.Milestone {
	t.Helper()
	ms, err := f.svc.DefineMilestones(context.Background(), buyer, contractID, inputs)
	require.NoError(t, err)
	return ms
}

// Total 1000.00 split 400.00 / 600.00.
func TestMilestones_ReleaseInOrderCompletesContract(t *testing.T) {
	f := newFixture(t, "1000.00")
	ctx := context.Background()
	c := ongoingMilestoneContract(t, f, "20", "50.00")
	ms := define(t, f, c.ID,
		contracts.MilestoneInput{Name: "Sowing", Amount: "400.00"},
		contracts.MilestoneInput{Name: "Harvest", Amount: "600.00"},
	)
	require.Len(t, ms, 2)
	assert.Equal(t, 1, ms[0].Seq)
	assert.Equal(t, 2, ms[1].Seq)

	_, err := f.svc.MarkComplete(ctx, farmer, ms[0].ID, contracts.EvidenceRequest{UpdateText: "Seeds in"})
	require.NoError(t, err)
	r1, err := f.svc.ReleasePayment(ctx, buyer, ms[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "400.00", r1.Amount)
	assert.False(t, r1.Final)
	assert.True(t, r1.Milestone.PaymentReleased)
	assert.Equal(t, contracts.StatusOngoing, r1.Contract.Status)

	assert.Equal(t, "400.00", f.balance(t, farmer.UserID))
	assert.Equal(t, "600.00", f.financials(t, c.ID).EscrowAmount)

	_, err = f.svc.MarkComplete(ctx, farmer, ms[1].ID, contracts.EvidenceRequest{UpdateText: "Crop cut"})
	require.NoError(t, err)
	r2, err := f.svc.ReleasePayment(ctx, buyer, ms[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "600.00", r2.Amount)
	assert.True(t, r2.Final)
	assert.Equal(t, contracts.StatusCompleted, r2.Contract.Status)

	assert.Equal(t, "1000.00", f.balance(t, farmer.UserID))
	assert.Equal(t, "0.00", f.balance(t, buyer.UserID))
	fin := f.financials(t, c.ID)
	assert.Equal(t, "0.00", fin.EscrowAmount)
	assert.Equal(t, "1000.00", fin.AmountPaid)
	require.NoError(t, escrow.Verify(fin))

	stored, err := f.store.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusCompleted, stored.Status)
	assert.Contains(t, f.pub.types(), negotiation.EventCompleted)
}

// The last release pays whatever escrow holds, not the nominal amount.
func TestMilestones_LastReleaseDrainsRemainder(t *testing.T) {
	f := newFixture(t, "1000.00")
	ctx := context.Background()
	c := ongoingMilestoneContract(t, f, "3", "333.33") // 999.99
	ms := define(t, f, c.ID,
		contracts.MilestoneInput{Name: "Advance", Amount: "333.33"},
		contracts.MilestoneInput{Name: "Delivery", Amount: "300.00"},
	)

	for _, m := range ms {
		_, err := f.svc.MarkComplete(ctx, farmer, m.ID, contracts.EvidenceRequest{UpdateText: "done"})
		require.NoError(t, err)
	}
	_, err := f.svc.ReleasePayment(ctx, buyer, ms[0].ID)
	require.NoError(t, err)
	last, err := f.svc.ReleasePayment(ctx, buyer, ms[1].ID)
	require.NoError(t, err)
	assert.True(t, last.Final)
	assert.Equal(t, "666.66", last.Amount)
	assert.Equal(t, "999.99", f.balance(t, farmer.UserID))
	assert.Equal(t, "0.00", f.financials(t, c.ID).EscrowAmount)
}

func TestReleasePayment_RequiresCompletion(t *testing.T) {
	f := newFixture(t, "1000.00")
	ctx := context.Background()
	c := ongoingMilestoneContract(t, f, "20", "50.00")
	ms := define(t, f, c.ID, contracts.MilestoneInput{Name: "Sowing", Amount: "400.00"})

	_, err := f.svc.ReleasePayment(ctx, buyer, ms[0].ID)
	assert.ErrorIs(t, err, contracts.ErrNotComplete)
	assert.ErrorIs(t, err, contracts.ErrInvalidTransition)

	assert.Equal(t, "0.00", f.balance(t, farmer.UserID))
	assert.Equal(t, "1000.00", f.financials(t, c.ID).EscrowAmount)
	got, err := f.svc.GetMilestone(ctx, buyer, ms[0].ID)
	require.NoError(t, err)
	assert.False(t, got.PaymentReleased)
}

func TestReleasePayment_Idempotency(t *testing.T) {
	f := newFixture(t, "1000.00")
	ctx := context.Background()
	c := ongoingMilestoneContract(t, f, "20", "50.00")
	ms := define(t, f, c.ID,
		contracts.MilestoneInput{Name: "Sowing", Amount: "400.00"},
		contracts.MilestoneInput{Name: "Harvest", Amount: "600.00"},
	)

	_, err := f.svc.MarkComplete(ctx, farmer, ms[0].ID, contracts.EvidenceRequest{UpdateText: "done"})
	require.NoError(t, err)
	_, err = f.svc.MarkComplete(ctx, farmer, ms[0].ID, contracts.EvidenceRequest{UpdateText: "again"})
	assert.ErrorIs(t, err, contracts.ErrAlreadyComplete)

	_, err = f.svc.ReleasePayment(ctx, buyer, ms[0].ID)
	require.NoError(t, err)
	_, err = f.svc.ReleasePayment(ctx, buyer, ms[0].ID)
	assert.ErrorIs(t, err, contracts.ErrAlreadyReleased)
	assert.Equal(t, "400.00", f.balance(t, farmer.UserID))
}

func TestReleasePayment_ConcurrentPaysOnce(t *testing.T) {
	f := newFixture(t, "1000.00")
	ctx := context.Background()
	c := ongoingMilestoneContract(t, f, "20", "50.00")
	ms := define(t, f, c.ID,
		contracts.MilestoneInput{Name: "Sowing", Amount: "400.00"},
		contracts.MilestoneInput{Name: "Harvest", Amount: "600.00"},
	)
	_, err := f.svc.MarkComplete(ctx, farmer, ms[0].ID, contracts.EvidenceRequest{UpdateText: "done"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.ReleasePayment(ctx, buyer, ms[0].ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, "400.00", f.balance(t, farmer.UserID))
	assert.Equal(t, "600.00", f.financials(t, c.ID).EscrowAmount)
}

func TestReleasePayment_ZeroAmountMovesNoMoney(t *testing.T) {
	f := newFixture(t, "1000.00")
	ctx := context.Background()
	c := ongoingMilestoneContract(t, f, "20", "50.00")
	ms := define(t, f, c.ID,
		contracts.MilestoneInput{Name: "Soil test", Amount: "0"},
		contracts.MilestoneInput{Name: "Harvest", Amount: "1000.00"},
	)
	assert.Equal(t, "0.00", ms[0].Amount)

	_, err := f.svc.MarkComplete(ctx, farmer, ms[0].ID, contracts.EvidenceRequest{UpdateText: "pH 6.8"})
	require.NoError(t, err)
	r, err := f.svc.ReleasePayment(ctx, buyer, ms[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", r.Amount)
	assert.False(t, r.Final)
	assert.True(t, r.Milestone.PaymentReleased)

	releases := 0
	for _, txn := range f.history(t, farmer.UserID) {
		if txn.Kind == ledger.KindRelease {
			releases++
		}
	}
	assert.Zero(t, releases)
}

// Escrow below a stage's nominal amount refuses the release.
func TestReleasePayment_InsufficientEscrow(t *testing.T) {
	f := newFixture(t, "1000.00")
	ctx := context.Background()
	c := ongoingMilestoneContract(t, f, "20", "50.00")
	ms := define(t, f, c.ID,
		contracts.MilestoneInput{Name: "A", Amount: "700.00"},
		contracts.MilestoneInput{Name: "B", Amount: "300.00"},
	)

	// Move escrow out from under the milestones through a release posted
	// directly against the contract.
	err := f.store.InContractTx(ctx, func(tx contracts.Tx) error {
		_, err := ledger.Credit(ctx, tx, ledger.Posting{
			UserID: farmer.UserID, Amount: "500.00", Kind: ledger.KindRelease, ContractID: c.ID,
		})
		return err
	})
	require.NoError(t, err)

	_, err = f.svc.MarkComplete(ctx, farmer, ms[0].ID, contracts.EvidenceRequest{UpdateText: "done"})
	require.NoError(t, err)
	_, err = f.svc.ReleasePayment(ctx, buyer, ms[0].ID)
	assert.ErrorIs(t, err, contracts.ErrInsufficientEscrow)
	assert.Equal(t, "500.00", f.financials(t, c.ID).EscrowAmount)
	assert.Equal(t, "500.00", f.balance(t, farmer.UserID))
}

func TestDefineMilestones_Guards(t *testing.T) {
	f := newFixture(t, "1000.00")
	ctx := context.Background()
	c := ongoingMilestoneContract(t, f, "20", "50.00")

	_, err := f.svc.DefineMilestones(ctx, farmer, c.ID, []contracts.MilestoneInput{{Name: "x", Amount: "1.00"}})
	assert.ErrorIs(t, err, contracts.ErrNotAuthorized)

	_, err = f.svc.DefineMilestones(ctx, buyer, c.ID, nil)
	assert.ErrorIs(t, err, contracts.ErrInvalidAmount)

	_, err = f.svc.DefineMilestones(ctx, buyer, c.ID, []contracts.MilestoneInput{{Name: "x", Amount: "-1.00"}})
	assert.ErrorIs(t, err, contracts.ErrInvalidAmount)

	_, err = f.svc.DefineMilestones(ctx, buyer, c.ID, []contracts.MilestoneInput{{Name: "x", Amount: "1000.01"}})
	assert.ErrorIs(t, err, contracts.ErrInvalidAmount)

	define(t, f, c.ID, contracts.MilestoneInput{Name: "First", Amount: "900.00"})
	_, err = f.svc.DefineMilestones(ctx, buyer, c.ID, []contracts.MilestoneInput{{Name: "Too much", Amount: "100.01"}})
	assert.ErrorIs(t, err, contracts.ErrInvalidAmount)

	more := define(t, f, c.ID, contracts.MilestoneInput{Name: "Second", Amount: "100.00"})
	assert.Equal(t, 2, more[0].Seq)

	f.addListing(t, "lst_rice")
	final, err := f.svc.Propose(ctx, buyer, contracts.ProposeRequest{ListingID: "lst_rice", Quantity: "1", PricePerUnit: "1.00"})
	require.NoError(t, err)
	_, err = f.svc.DefineMilestones(ctx, buyer, final.ID, []contracts.MilestoneInput{{Name: "x", Amount: "1.00"}})
	assert.ErrorIs(t, err, contracts.ErrInvalidTransition)
}

func TestCounter_RefusedOnceMilestonesExist(t *testing.T) {
	f := newFixture(t, "1000.00")
	ctx := context.Background()
	c := f.propose(t, "20", "50.00", contracts.TermsMilestone)
	define(t, f, c.ID, contracts.MilestoneInput{Name: "Sowing", Amount: "400.00"})

	_, err := f.svc.Counter(ctx, farmer, c.ID, contracts.CounterRequest{Quantity: "20", PricePerUnit: "10.00"})
	assert.ErrorIs(t, err, contracts.ErrInvalidTransition)

	stored, err := f.store.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", stored.PricePerUnitAgreed)
}

func TestComplete_MilestoneTermsNeedAllReleased(t *testing.T) {
	f := newFixture(t, "1000.00")
	ctx := context.Background()
	c := ongoingMilestoneContract(t, f, "20", "50.00")
	ms := define(t, f, c.ID, contracts.MilestoneInput{Name: "Sowing", Amount: "400.00"})

	_, err := f.svc.Complete(ctx, farmer, c.ID)
	assert.ErrorIs(t, err, contracts.ErrInvalidTransition)
	_, err = f.svc.MarkComplete(ctx, farmer, ms[0].ID, contracts.EvidenceRequest{UpdateText: "done"})
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, farmer, c.ID)
	assert.ErrorIs(t, err, contracts.ErrInvalidTransition)
	assert.Equal(t, "0.00", f.balance(t, farmer.UserID))
}

func TestMarkComplete_Guards(t *testing.T) {
	f := newFixture(t, "1000.00")
	ctx := context.Background()
	c := f.propose(t, "20", "50.00", contracts.TermsMilestone)
	ms := define(t, f, c.ID, contracts.MilestoneInput{Name: "Sowing", Amount: "400.00"})

	_, err := f.svc.MarkComplete(ctx, farmer, ms[0].ID, contracts.EvidenceRequest{UpdateText: "x"})
	assert.ErrorIs(t, err, contracts.ErrInvalidTransition, "contract not ongoing")

	_, err = f.svc.MarkComplete(ctx, buyer, ms[0].ID, contracts.EvidenceRequest{UpdateText: "x"})
	assert.ErrorIs(t, err, contracts.ErrNotAuthorized)

	_, err = f.svc.MarkComplete(ctx, farmer, "mst_missing", contracts.EvidenceRequest{UpdateText: "x"})
	assert.ErrorIs(t, err, contracts.ErrMilestoneNotFound)

	outsider := contracts.Actor{UserID: "usr_outsider", Party: contracts.PartyFarmer}
	_, err = f.svc.GetMilestone(ctx, outsider, ms[0].ID)
	assert.ErrorIs(t, err, contracts.ErrNotAuthorized)
}

func TestListMilestones(t *testing.T) {
	f := newFixture(t, "1000.00")
	ctx := context.Background()
	c := ongoingMilestoneContract(t, f, "20", "50.00")
	define(t, f, c.ID,
		contracts.MilestoneInput{Name: "Sowing", Amount: "400.00"},
		contracts.MilestoneInput{Name: "Harvest", Amount: "600.00"},
	)

	ms, err := f.svc.ListMilestones(ctx, farmer, c.ID)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "Sowing", ms[0].Name)
	assert.Equal(t, "Harvest", ms[1].Name)
}
