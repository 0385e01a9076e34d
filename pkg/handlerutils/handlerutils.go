package handlerutils

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/obot-platform/zoo-mcp-auth/pkg/grant"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
	"go.uber.org/zap"
)

func JSON(w http.ResponseWriter, statusCode int, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if obj != nil {
		if err := json.NewEncoder(w).Encode(obj); err != nil {
			zap.L().Error("Error encoding JSON response", zap.Error(err))
		}
	}
}

// OAuthError writes an OAuth error body with the given status.
func OAuthError(w http.ResponseWriter, statusCode int, code, description string) {
	JSON(w, statusCode, types.OAuthError{
		Error:            code,
		ErrorDescription: description,
	})
}

// WriteError writes err as an OAuth error. Errors that are not grant errors become a generic
// server_error and their details are only logged.
func WriteError(w http.ResponseWriter, err error) {
	e := grant.AsError(err)
	if e.Code == grant.ErrorCodeServerError {
		zap.L().Error("Request failed", zap.Error(err))
	}
	OAuthError(w, e.Status, e.Code, e.Description)
}

// GetClientIP extracts the client IP from the request using the X-Forwarded-For,
// X-Real-IP and RemoteAddr headers.
func GetClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Get the first IP in the comma-separated list
		ifs := strings.Split(xff, ",")
		return strings.TrimSpace(ifs[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}

// GetBaseURL returns the URL of the request without the path and
// infers the scheme (http or https)
func GetBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

// DecodeParams reads request parameters from a JSON body or, for any other content type, from
// the form. Parameter names are the JSON names of dst's fields.
func DecodeParams(r *http.Request, dst any) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
			return fmt.Errorf("invalid JSON body: %w", err)
		}
		return nil
	}

	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("invalid form body: %w", err)
	}
	values := make(map[string]string, len(r.Form))
	for key := range r.Form {
		values[key] = r.Form.Get(key)
	}
	// Round trip through JSON so form fields land on the same struct tags.
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

const maxBodyBytes = 1024 * 1024
