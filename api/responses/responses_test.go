package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/labloan-backend/pkg/errors"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/types"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.APIError {
	t.Helper()
	var env types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env.Error
}

func TestWriteSuccessStatusWrapsData(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]any{"status": "pending", "quantity": 2})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"status":"pending","quantity":2}}`, w.Body.String())
}

func TestWriteErrorShowsInventoryShortfall(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeInsufficientInventory, "only 1 unit available").
		WithDetails(map[string]any{"requested": 2, "available": 1})

	WriteError(context.Background(), nil, w, fmt.Errorf("approve: %w", err))

	assert.Equal(t, http.StatusConflict, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "INSUFFICIENT_INVENTORY", body.Code)
	assert.Equal(t, "only 1 unit available", body.Message)
	assert.Equal(t, map[string]any{"requested": float64(2), "available": float64(1)}, body.Details)
}

func TestWriteErrorDropsDetailsForConcurrentUpdate(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeConflict, "request changed, retry").
		WithDetails(map[string]any{"version": 3})

	WriteError(context.Background(), nil, w, err)

	assert.Equal(t, http.StatusConflict, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "request changed, retry", body.Message)
	assert.Nil(t, body.Details)
}

func TestWriteErrorHidesUntypedFailure(t *testing.T) {
	var logs bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "lending-api", Output: &logs})
	w := httptest.NewRecorder()

	WriteError(context.Background(), logg, w, errors.New("dial tcp 10.0.0.4:5432: refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "INTERNAL_ERROR", body.Code)
	assert.Equal(t, "internal server error", body.Message)
	assert.NotContains(t, w.Body.String(), "10.0.0.4")
	assert.Contains(t, logs.String(), "10.0.0.4")
	assert.Contains(t, logs.String(), `"level":"error"`)
}

func TestWriteErrorLogsClientMistakesAtWarn(t *testing.T) {
	var logs bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "lending-api", Output: &logs})
	w := httptest.NewRecorder()

	WriteError(context.Background(), logg, w, pkgerrors.New(pkgerrors.CodeIllegalTransition, "returned requests are final"))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, logs.String(), `"level":"warn"`)
	assert.Contains(t, logs.String(), `"error_code":"ILLEGAL_TRANSITION"`)
	assert.Contains(t, logs.String(), `"status":409`)
}

func TestWriteErrorWithNilError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
