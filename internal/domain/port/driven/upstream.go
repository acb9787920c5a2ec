package driven

import (
	"context"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
)

// Prober sends a minimal request to the upstream service using keyValue as
// the credential. A nil error means the key can serve modelID. The returned
// error text is recorded as the failure reason, so it must not contain the
// key itself.
type Prober interface {
	Probe(ctx context.Context, keyValue, modelID string) error
}

// ModelLister fetches the upstream model catalogue using keyValue as the
// credential.
type ModelLister interface {
	ListModels(ctx context.Context, keyValue string) ([]model.TargetModel, error)
}
