package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"giftboard-runtime/internal/apperrors"
)

// readyService reports completed initialization.
type readyService struct{ initialized bool }

func (s *readyService) Initialize(context.Context) error { s.initialized = true; return nil }
func (s *readyService) IsInitialized() bool              { return s.initialized }
func (s *readyService) Fetch() string                    { return "data" }

// initOnlyService declares initialization without reporting status.
type initOnlyService struct{}

func (s *initOnlyService) Initialize(context.Context) error { return nil }

// plainService has no initialization markers at all.
type plainService struct{ Handler func() }

func (s *plainService) Ping() string { return "pong" }

func TestValidateService(t *testing.T) {
	v := New(zap.NewNop(), nil)

	tests := []struct {
		name string
		svc  any
		kind apperrors.Kind
	}{
		{"untyped nil", nil, apperrors.KindServiceMissing},
		{"typed nil pointer", (*readyService)(nil), apperrors.KindServiceMissing},
		{"scalar value", 42, apperrors.KindServiceInvalidType},
		{"uninitialized reporter", &readyService{}, apperrors.KindServiceNotInitialized},
		{"initializable without status", &initOnlyService{}, apperrors.KindServiceInitializationRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateService(tt.svc, "svc")
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, tt.kind), "got %v", err)
		})
	}

	t.Run("initialized reporter passes", func(t *testing.T) {
		svc := &readyService{}
		require.NoError(t, svc.Initialize(context.Background()))
		assert.NoError(t, v.ValidateService(svc, "svc"))
	})

	t.Run("plain object assumed ready", func(t *testing.T) {
		assert.NoError(t, v.ValidateService(&plainService{}, "svc"))
	})
}

func TestValidateMethod(t *testing.T) {
	v := New(zap.NewNop(), nil)
	ready := &readyService{initialized: true}

	t.Run("existing method", func(t *testing.T) {
		assert.NoError(t, v.ValidateMethod(ready, "Fetch", "svc"))
	})

	t.Run("missing method", func(t *testing.T) {
		err := v.ValidateMethod(ready, "Missing", "svc")
		assert.True(t, apperrors.IsKind(err, apperrors.KindMethodMissing))
	})

	t.Run("non-callable field", func(t *testing.T) {
		type withField struct{ Data string }
		err := v.ValidateMethod(&withField{}, "Data", "svc")
		assert.True(t, apperrors.IsKind(err, apperrors.KindMethodNotCallable))
	})

	t.Run("func field is callable", func(t *testing.T) {
		assert.NoError(t, v.ValidateMethod(&plainService{Handler: func() {}}, "Handler", "svc"))
	})

	t.Run("service validation runs first", func(t *testing.T) {
		err := v.ValidateMethod(nil, "Fetch", "svc")
		assert.True(t, apperrors.IsKind(err, apperrors.KindServiceMissing))
	})
}

func TestServiceHealth(t *testing.T) {
	v := New(zap.NewNop(), nil)

	t.Run("missing", func(t *testing.T) {
		health := v.ServiceHealth(nil, "svc")
		assert.False(t, health.Available)
		assert.False(t, health.Healthy)
		assert.NotEmpty(t, health.Issues)
	})

	t.Run("uninitialized", func(t *testing.T) {
		health := v.ServiceHealth(&readyService{}, "svc")
		assert.True(t, health.Available)
		assert.False(t, health.Initialized)
		assert.False(t, health.Healthy)
	})

	t.Run("healthy", func(t *testing.T) {
		health := v.ServiceHealth(&readyService{initialized: true}, "svc")
		assert.True(t, health.Healthy)
		assert.Empty(t, health.Issues)
	})

	t.Run("plain object healthy", func(t *testing.T) {
		health := v.ServiceHealth(&plainService{}, "svc")
		assert.True(t, health.Healthy)
	})
}
