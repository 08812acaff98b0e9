package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RespondJSONWithETag marshals payload once, tags it with a strong ETag and
// answers 304 when the client already holds that representation.
func RespondJSONWithETag(ctx *gin.Context, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		RespondInternal(ctx, err)
		return
	}

	sum := sha256.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`

	h := ctx.Writer.Header()
	h.Set("ETag", etag)
	// bodies are per caller
	h.Set("Vary", "Authorization")
	h.Set("Cache-Control", "private, no-cache")

	if etagMatches(ctx.GetHeader("If-None-Match"), etag) {
		ctx.Status(http.StatusNotModified)
		return
	}

	ctx.Data(status, "application/json; charset=utf-8", body)
}

// etagMatches applies the weak comparison If-None-Match calls for.
func etagMatches(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)
	if ifNoneMatch == "" {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}

	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == etag {
			return true
		}
	}
	return false
}
