/*
ack.go - Staff acknowledgment of alerts

PURPOSE:
  Marks an alert acknowledged with actor and timestamp. Read-only with
  respect to batches: acknowledging never touches quantity or status.

ONE-WAY TRANSITION:
  Re-acknowledging is rejected with ErrAlreadyAcknowledged, not silently
  accepted, so the recorded who/when stays accurate. The store performs
  the flip as a compare-and-set on the acknowledged flag, which also
  covers the benign race of two staff members clicking at once: exactly
  one wins, the other gets the conflict.

SEE ALSO:
  - store.go: AcknowledgeAlert contract
*/
package engine

import (
	"context"
	"fmt"
)

// AcknowledgmentService marks alerts as acknowledged.
type AcknowledgmentService struct {
	Store AlertStore
	Clock Clock
}

func NewAcknowledgmentService(store AlertStore, clock Clock) *AcknowledgmentService {
	return &AcknowledgmentService{Store: store, Clock: clock}
}

// Acknowledge sets acknowledged=true with actor and timestamp.
// Fails with ErrAlreadyAcknowledged if the alert is already
// acknowledged or closed, ErrAlertNotFound if absent.
func (s *AcknowledgmentService) Acknowledge(ctx context.Context, id AlertID, by string) (*Alert, error) {
	if by == "" {
		return nil, fmt.Errorf("%w: acknowledged_by", ErrInvalidActor)
	}
	return s.Store.AcknowledgeAlert(ctx, id, by, s.Clock.Now())
}
