package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-otp-accounts/internal/domain"
)

// errorCase maps one domain sentinel to a status and client-facing message.
type errorCase struct {
	target error
	status int
	msg    string
}

// Cases shared by every endpoint; endpoint tables are checked first.
var commonCases = []errorCase{
	{domain.ErrBadRequest, http.StatusUnprocessableEntity, ""},
}

// httpError writes the first matching case, or a 500 for anything unmapped.
// An empty msg in a case means the error text itself is safe to return.
func httpError(w http.ResponseWriter, r *http.Request, err error, cases ...errorCase) {
	for _, list := range [][]errorCase{cases, commonCases} {
		for _, c := range list {
			if errors.Is(err, c.target) {
				msg := c.msg
				if msg == "" {
					msg = err.Error()
				}
				writeError(w, c.status, msg)
				return
			}
		}
	}
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
