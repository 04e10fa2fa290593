// Package responses writes the JSON envelopes every lending endpoint returns.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/labloan-backend/pkg/errors"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError renders err as an error envelope. Errors without a code are
// treated as internal so their text never reaches the borrower.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("error response without a cause")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "")
	}
	code := typed.Code()

	body := types.APIError{
		Code:    string(code),
		Message: code.PublicMessage(typed.Message()),
	}
	if code.ShowsDetails() {
		body.Details = typed.Details()
	}

	if logg != nil {
		fields := pkgerrors.LogFields(err)
		fields["status"] = code.HTTPStatus()
		fields["retryable"] = code.Retryable()
		if code.HTTPStatus() >= http.StatusInternalServerError {
			logg.Error(logg.WithFields(ctx, fields), "lending request failed", err)
		} else {
			logg.Warn(logg.WithFields(ctx, fields), "lending request rejected")
		}
	}

	writeJSON(w, code.HTTPStatus(), types.ErrorEnvelope{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already sent; an encode failure only means the
	// client went away.
	_ = json.NewEncoder(w).Encode(payload)
}
