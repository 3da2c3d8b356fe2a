package orders

import (
	"errors"

	"github.com/joao-fontenele/starsflow/internal/domain"
	"github.com/joao-fontenele/starsflow/internal/notify"
)

var (
	ErrUnauthorized       = errors.New("webhook signature rejected")
	ErrNotFound           = errors.New("order not found")
	ErrTransitionRejected = errors.New("transition rejected")
	ErrUnknownProduct     = domain.ErrUnknownProduct
	ErrAdapterUnavailable = errors.New("adapter unavailable")
	ErrUnknownProvider    = errors.New("unknown payment provider")
	ErrInvalidOrder       = errors.New("invalid order")
)

// IsPermanent reports whether retrying the operation that produced err cannot
// change its outcome.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnknownProduct) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAdapterUnavailable) ||
		errors.Is(err, notify.ErrUnknownKind) ||
		errors.Is(err, notify.ErrRejected)
}
