package escrow

import (
	"context"
	"log/slog"

	"github.com/mbd888/krishiconnect/internal/ledger"
)

// Reader is the read-committed view the service computes from.
type Reader interface {
	EscrowTerms(ctx context.Context, contractID string) (Terms, error)
	ContractTransactions(ctx context.Context, contractID string) ([]*ledger.Transaction, error)
}

// Service computes financials through a Reader.
type Service struct {
	reader Reader
	logger *slog.Logger
}

// NewService creates an escrow accounting service.
func NewService(reader Reader) *Service {
	return &Service{reader: reader, logger: slog.Default()}
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// Financials returns the contract's current position. Invariant violations
// are logged, not returned: the numbers are still the truth of the ledger.
func (s *Service) Financials(ctx context.Context, contractID string) (*Financials, error) {
	terms, err := s.reader.EscrowTerms(ctx, contractID)
	if err != nil {
		return nil, err
	}
	txns, err := s.reader.ContractTransactions(ctx, contractID)
	if err != nil {
		return nil, err
	}
	f, err := Compute(contractID, terms, txns)
	if err != nil {
		return nil, err
	}
	if verr := Verify(f); verr != nil {
		s.logger.Error("CRITICAL: escrow invariant violated", "contractId", contractID, "error", verr)
	}
	return f, nil
}
