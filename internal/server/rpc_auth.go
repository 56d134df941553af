package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

type rpcErrorBody struct {
	JSONRPC string `json:"jsonrpc"`
	Error   struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID any `json:"id"`
}

// requireToken wraps next with bearer token authentication. Failures are
// answered with a JSON-RPC error body and 401. An empty secret rejects
// every request.
func requireToken(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if validToken(secret, r.Header.Get("Authorization")) {
			next.ServeHTTP(w, r)
			return
		}
		var body rpcErrorBody
		body.JSONRPC = "2.0"
		body.Error.Code = -32600
		body.Error.Message = "Unauthorized"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(body)
	})
}

func validToken(secret, header string) bool {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if secret == "" || !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
