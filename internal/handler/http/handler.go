package http

import (
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/utafrali/authgate/pkg/errors"
	"github.com/utafrali/authgate/pkg/httputil"
	"github.com/utafrali/authgate/pkg/validator"
)

// errorWriter is shared by every handler and middleware of the router so all
// rejections carry the same envelope.
type errorWriter struct {
	httputil.ErrorWriter
}

func newErrorWriter(logger *slog.Logger, expose bool) errorWriter {
	return errorWriter{httputil.ErrorWriter{Logger: logger, Expose: expose}}
}

// decode reads and validates a JSON body. Malformed bodies become
// validation errors rather than internal ones.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	err := validator.DecodeAndValidate(w, r, dst)
	if err == nil {
		return nil
	}
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		return err
	}
	if errors.Is(err, validator.ErrEmptyBody) {
		return apperrors.New(apperrors.KindValidation, "Request body is required.", err)
	}
	return apperrors.New(apperrors.KindValidation, "Invalid request body.", err)
}
