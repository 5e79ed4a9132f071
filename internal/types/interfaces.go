// internal/types/interfaces.go
package types

import (
	"context"
)

type DispatchJournal interface {
	Record(ctx context.Context, rec *DispatchRecord) error
	Recent(ctx context.Context, limit int) ([]*DispatchRecord, error)
}
