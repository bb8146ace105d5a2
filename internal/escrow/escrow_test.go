package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mbd888/krishiconnect/internal/ledger"
)

func txn(contractID string, kind ledger.Kind, amount string) *ledger.Transaction {
	return &ledger.Transaction{ID: "txn_" + amount, ContractID: contractID, Kind: kind, Amount: amount}
}

func TestCompute_Accepted(t *testing.T) {
	f, err := Compute("ctr_1", Terms{Quantity: "100", PricePerUnit: "50.00"}, []*ledger.Transaction{
		txn("ctr_1", ledger.KindEscrow, "5000.00"),
	})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if f.TotalValue != "5000.00" {
		t.Errorf("Expected total 5000.00, got %s", f.TotalValue)
	}
	if f.EscrowAmount != "5000.00" {
		t.Errorf("Expected escrow 5000.00, got %s", f.EscrowAmount)
	}
	if f.AmountPaid != "0.00" {
		t.Errorf("Expected paid 0.00, got %s", f.AmountPaid)
	}
	if f.RemainingToPay != "5000.00" {
		t.Errorf("Expected remaining 5000.00, got %s", f.RemainingToPay)
	}
}

func TestCompute_PartialRelease(t *testing.T) {
	f, err := Compute("ctr_1", Terms{Quantity: "10", PricePerUnit: "100.00"}, []*ledger.Transaction{
		txn("ctr_1", ledger.KindEscrow, "1000.00"),
		txn("ctr_1", ledger.KindRelease, "400.00"),
		txn("ctr_2", ledger.KindRelease, "999.00"), // other contract
		txn("", ledger.KindDeposit, "5000.00"),      // untagged
	})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if f.EscrowAmount != "600.00" {
		t.Errorf("Expected escrow 600.00, got %s", f.EscrowAmount)
	}
	if f.AmountPaid != "400.00" {
		t.Errorf("Expected paid 400.00, got %s", f.AmountPaid)
	}
	if f.RemainingToPay != "600.00" {
		t.Errorf("Expected remaining 600.00, got %s", f.RemainingToPay)
	}
	if err := Verify(f); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestCompute_NoTransactions(t *testing.T) {
	f, err := Compute("ctr_1", Terms{Quantity: "2.5", PricePerUnit: "19.99"}, nil)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if f.TotalValue != "49.98" {
		t.Errorf("Expected total 49.98, got %s", f.TotalValue)
	}
	if f.EscrowAmount != "0.00" {
		t.Errorf("Expected escrow 0.00, got %s", f.EscrowAmount)
	}
}

func TestCompute_InvalidTerms(t *testing.T) {
	_, err := Compute("ctr_1", Terms{Quantity: "abc", PricePerUnit: "1.00"}, nil)
	if !errors.Is(err, ErrInvalidTerms) {
		t.Errorf("Expected ErrInvalidTerms, got %v", err)
	}
	_, err = Compute("ctr_1", Terms{Quantity: "1", PricePerUnit: "1.001"}, nil)
	if !errors.Is(err, ErrInvalidTerms) {
		t.Errorf("Expected ErrInvalidTerms, got %v", err)
	}
}

func TestCompute_Idempotent(t *testing.T) {
	terms := Terms{Quantity: "333.333", PricePerUnit: "3.33"}
	txns := []*ledger.Transaction{
		txn("ctr_1", ledger.KindEscrow, "1110.00"),
		txn("ctr_1", ledger.KindRelease, "0.01"),
	}
	a, _ := Compute("ctr_1", terms, txns)
	b, _ := Compute("ctr_1", terms, txns)
	if *a != *b {
		t.Errorf("Compute not idempotent: %+v vs %+v", a, b)
	}
}

func TestVerify(t *testing.T) {
	if err := Verify(&Financials{TotalValue: "10.00", EscrowAmount: "-1.00", AmountPaid: "1.00"}); !errors.Is(err, ErrNegativeEscrow) {
		t.Errorf("Expected ErrNegativeEscrow, got %v", err)
	}
	if err := Verify(&Financials{TotalValue: "10.00", EscrowAmount: "0.00", AmountPaid: "10.01"}); !errors.Is(err, ErrOverpaid) {
		t.Errorf("Expected ErrOverpaid, got %v", err)
	}
}

type fakeReader struct {
	mu    sync.Mutex
	terms Terms
	txns  []*ledger.Transaction
	err   error
}

func (f *fakeReader) EscrowTerms(ctx context.Context, contractID string) (Terms, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terms, f.err
}

func (f *fakeReader) ContractTransactions(ctx context.Context, contractID string) ([]*ledger.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txns, nil
}

func TestService_Financials(t *testing.T) {
	r := &fakeReader{
		terms: Terms{Quantity: "100", PricePerUnit: "50.00"},
		txns:  []*ledger.Transaction{txn("ctr_1", ledger.KindEscrow, "5000.00")},
	}
	svc := NewService(r)

	var wg sync.WaitGroup
	results := make([]*Financials, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := svc.Financials(context.Background(), "ctr_1")
			if err != nil {
				t.Errorf("Financials: %v", err)
				return
			}
			results[i] = f
		}(i)
	}
	wg.Wait()

	for _, f := range results[1:] {
		if f == nil || *f != *results[0] {
			t.Fatalf("concurrent reads disagree: %+v vs %+v", f, results[0])
		}
	}
}

func TestService_NotFound(t *testing.T) {
	notFound := errors.New("contract not found")
	svc := NewService(&fakeReader{err: notFound})
	if _, err := svc.Financials(context.Background(), "ctr_x"); !errors.Is(err, notFound) {
		t.Errorf("Expected reader error, got %v", err)
	}
}
