package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/keypanel/internal/application"
	"github.com/ericfisherdev/keypanel/internal/domain/model"
)

func TestModelService_ListModels(t *testing.T) {
	store := newMemKeyStore(activeKey("ms-a-00000001"))
	lister := &mockModelLister{models: []model.TargetModel{{ID: testModel, OwnedBy: "system"}}}
	svc := application.NewModelService(application.NewKeyService(store), lister)

	models, err := svc.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, testModel, models[0].ID)
	assert.Equal(t, []string{"ms-a-00000001"}, lister.calls)
}

func TestModelService_FailsOverToNextKey(t *testing.T) {
	store := newMemKeyStore(activeKey("ms-a-00000001"), activeKey("ms-b-00000002"))
	lister := &mockModelLister{
		failOn: map[string]error{"ms-a-00000001": errors.New("HTTP 401")},
		models: []model.TargetModel{{ID: testModel}},
	}
	svc := application.NewModelService(application.NewKeyService(store), lister)

	models, err := svc.ListModels(context.Background())
	require.NoError(t, err)
	assert.Len(t, models, 1)
	assert.Equal(t, []string{"ms-a-00000001", "ms-b-00000002"}, lister.calls)
}

func TestModelService_GivesUpAfterThreeAttempts(t *testing.T) {
	store := newMemKeyStore(activeKey("ms-a-00000001"))
	lister := &mockModelLister{failOn: map[string]error{"ms-a-00000001": errors.New("HTTP 503")}}
	svc := application.NewModelService(application.NewKeyService(store), lister)

	_, err := svc.ListModels(context.Background())
	require.ErrorIs(t, err, application.ErrUpstream)
	assert.Len(t, lister.calls, 3)
}

func TestModelService_NoActiveKeys(t *testing.T) {
	store := newMemKeyStore(disabledKey("ms-a-00000001", "HTTP 401", time.Now()))
	svc := application.NewModelService(application.NewKeyService(store), &mockModelLister{})

	_, err := svc.ListModels(context.Background())
	require.ErrorIs(t, err, application.ErrNoActiveKeys)
}
