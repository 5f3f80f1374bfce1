package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-dispatch/internal/config"
	"github.com/example/delivery-dispatch/internal/dispatch"
	"github.com/example/delivery-dispatch/internal/geo"
	"github.com/example/delivery-dispatch/internal/inbox"
	"github.com/example/delivery-dispatch/internal/logging"
	"github.com/example/delivery-dispatch/internal/matcher"
	"github.com/example/delivery-dispatch/internal/storage"
)

func TestOpenInfra_InMemory(t *testing.T) {
	in, err := OpenInfra(context.Background(), config.Config{}, logging.Discard())
	require.NoError(t, err)
	defer in.Close()

	assert.IsType(t, &storage.MemoryStore{}, in.Store)
	assert.IsType(t, &geo.Index{}, in.Geo)
	assert.IsType(t, &inbox.Hub{}, in.Feed)
	assert.Nil(t, in.Redis)
}

func TestNewPolicy(t *testing.T) {
	assert.IsType(t, matcher.AllAvailable{}, NewPolicy(config.Config{DispatchPolicy: config.PolicyAll}, nil))

	p := NewPolicy(config.Config{
		DispatchPolicy:        config.PolicyNearest,
		DispatchRadiusMeters:  1000,
		DispatchMaxCandidates: 5,
		OSRMEndpoint:          "http://osrm",
	}, geo.NewIndex())
	n, ok := p.(*matcher.Nearest)
	require.True(t, ok)
	assert.Equal(t, 5, n.MaxCandidates)
	assert.NotNil(t, n.ETA.Client)
}

func TestNewNotifier(t *testing.T) {
	assert.IsType(t, dispatch.LogNotifier{}, NewNotifier(config.Config{}, logging.Discard()))
	assert.IsType(t, &dispatch.FCMNotifier{}, NewNotifier(config.Config{FCMEndpoint: "http://fcm"}, logging.Discard()))
}
