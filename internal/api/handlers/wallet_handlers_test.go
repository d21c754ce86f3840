package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/custody_service/internal/domain/entities"
	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
	"github.com/rail-service/custody_service/pkg/logger"
)

type MockWalletService struct{ mock.Mock }

func (m *MockWalletService) result(args mock.Arguments) (*entities.CustodialWallet, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.CustodialWallet), args.Error(1)
}

func (m *MockWalletService) GetOrCreate(ctx context.Context, userID uuid.UUID) (*entities.CustodialWallet, error) {
	return m.result(m.Called(ctx, userID))
}

func (m *MockWalletService) Get(ctx context.Context, userID uuid.UUID) (*entities.CustodialWallet, error) {
	return m.result(m.Called(ctx, userID))
}

func (m *MockWalletService) Regenerate(ctx context.Context, userID uuid.UUID) (*entities.CustodialWallet, error) {
	return m.result(m.Called(ctx, userID))
}

func walletRouter(svc WalletService, userID *uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewWalletHandlers(svc, logger.NewNop())
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if userID != nil {
			c.Set("user_id", *userID)
		}
		c.Next()
	})
	router.POST("/wallets", h.CreateWallet)
	router.GET("/wallets/me", h.GetMyWallet)
	router.POST("/wallets/regenerate", h.RegenerateWallet)
	return router
}

func TestCreateWallet_NeverLeaksKeyMaterial(t *testing.T) {
	userID := uuid.New()
	svc := new(MockWalletService)
	svc.On("GetOrCreate", mock.Anything, userID).Return(&entities.CustodialWallet{
		ID:                  uuid.New(),
		UserID:              userID,
		Address:             testAddress,
		DerivationIndex:     7,
		EncryptedPrivateKey: "deadbeef",
		KeyIV:               "00",
		KeyAuthTag:          "11",
		IsActive:            true,
		CreatedAt:           time.Now(),
	}, nil)

	w := httptest.NewRecorder()
	walletRouter(svc, &userID).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/wallets", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, testAddress, body["address"])
	assert.Equal(t, float64(7), body["derivationIndex"])
	assert.NotContains(t, w.Body.String(), "deadbeef")
}

func TestWalletHandlers_ErrorMapping(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name   string
		method string
		path   string
		op     string
		err    error
		status int
	}{
		{"no wallet yet", http.MethodGet, "/wallets/me", "Get", domainerrors.WalletNotFoundError(userID.String()), http.StatusNotFound},
		{"cooldown", http.MethodPost, "/wallets/regenerate", "Regenerate", domainerrors.RateLimitError(1, "10s"), http.StatusTooManyRequests},
		{"conflict", http.MethodPost, "/wallets", "GetOrCreate", domainerrors.ConflictError("derivation_index", "taken"), http.StatusConflict},
		{"database down", http.MethodPost, "/wallets", "GetOrCreate", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockWalletService)
			svc.On(tt.op, mock.Anything, userID).Return(nil, tt.err)

			w := httptest.NewRecorder()
			walletRouter(svc, &userID).ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
			assert.NotContains(t, w.Body.String(), "connection refused")
		})
	}
}

func TestWalletHandlers_RequireUser(t *testing.T) {
	svc := new(MockWalletService)
	w := httptest.NewRecorder()
	walletRouter(svc, nil).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/wallets", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthy := NewHealthHandler(map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	}, zap.NewNop(), "test")
	unhealthy := NewHealthHandler(map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("no route to host") },
	}, zap.NewNop(), "test")

	router := gin.New()
	router.GET("/ok", healthy.Health)
	router.GET("/bad", unhealthy.Health)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bad", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Equal(t, "no route to host", body.Checks["redis"])
}
