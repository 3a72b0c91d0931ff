package delivery_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tartampluch/greeter-service/internal/config"
	"github.com/tartampluch/greeter-service/internal/delivery"
)

func TestClassify_StatusCodes(t *testing.T) {
	assert.True(t, delivery.Classify(http.StatusTooManyRequests, nil))
	assert.True(t, delivery.Classify(http.StatusServiceUnavailable, nil))
	assert.True(t, delivery.Classify(http.StatusInternalServerError, nil))
	assert.False(t, delivery.Classify(http.StatusBadRequest, nil))
	assert.False(t, delivery.Classify(http.StatusUnauthorized, nil))
}

func TestClassify_ErrorText(t *testing.T) {
	assert.True(t, delivery.Classify(0, errors.New("dial tcp: connection timeout")))
	assert.False(t, delivery.Classify(0, errors.New("validation failed: invalid email")))
	// Ambiguous text defaults to transient.
	assert.True(t, delivery.Classify(0, errors.New("something odd happened")))
}

func TestHTTPClient_Send_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := delivery.NewHTTPClient(config.DeliveryConfig{URL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)

	result, err := client.Send(context.Background(), "alice@example.com", "Hey, Alice it's your birthday")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
}

func TestHTTPClient_Send_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := delivery.NewHTTPClient(config.DeliveryConfig{URL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)

	result, err := client.Send(context.Background(), "alice@example.com", "msg")
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
}

func TestHTTPClient_Send_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := delivery.NewHTTPClient(config.DeliveryConfig{URL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)

	result, err := client.Send(context.Background(), "alice@example.com", "msg")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
}

func TestNewHTTPClient_RejectsBadScheme(t *testing.T) {
	_, err := delivery.NewHTTPClient(config.DeliveryConfig{URL: "ftp://example.com"})
	require.Error(t, err)
}
