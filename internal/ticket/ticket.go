package ticket

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/frahmantamala/ticket-payments/internal/core/datamodel/ticket"
)

type (
	Ticket = ticket.Ticket
	Status = ticket.Status
)

var ErrTicketNotFound = errors.New("ticket not found")

// Repository is the approval contract payments rely on. Approve stamps the
// ticket's own registrant as approver; ApproveBatch leaves the approver unset.
// Neither touches a ticket that is already approved, and ApproveBatch counts
// only the tickets it changed.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Ticket, error)
	Approve(ctx context.Context, id uuid.UUID, approvedAt time.Time) error
	ApproveBatch(ctx context.Context, ids []uuid.UUID, approvedAt time.Time) (int64, error)
	WithTx(tx *gorm.DB) Repository
}
