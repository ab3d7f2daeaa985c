package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zhouzirui/moodcycle-gateway/internal/admission"
	"github.com/zhouzirui/moodcycle-gateway/pkg/utils"
)

type contextKey int

const (
	deviceIDKey contextKey = iota
	claimsKey
)

// DeviceAuth rejects requests without an X-Device-ID header and stores the
// identifier in the request context.
func DeviceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deviceID := strings.TrimSpace(r.Header.Get(admission.DeviceHeader))
		if deviceID == "" {
			utils.RespondErrorCode(w, http.StatusUnauthorized, "DEVICE_ID_REQUIRED", "Device ID manquant")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deviceIDKey, deviceID)))
	})
}

// DeviceID returns the identifier stored by DeviceAuth.
func DeviceID(ctx context.Context) string {
	id, _ := ctx.Value(deviceIDKey).(string)
	return id
}
