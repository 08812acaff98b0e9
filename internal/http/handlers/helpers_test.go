package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/geocoder89/loanhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

// Make sure Gin does not spam the console during the test
func init() {
	gin.SetMode(gin.TestMode)
}

// newEngine mounts the error tail and, when userID is set, a stand-in for the
// auth middleware.
func newEngine(userID string) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.RequestID(), middlewares.ErrorHandler(slog.New(slog.NewJSONHandler(io.Discard, nil))))

	if userID != "" {
		r.Use(func(c *gin.Context) {
			c.Set(middlewares.CtxUserID, userID)
			c.Next()
		})
	}
	return r
}

func newRequest(method, path, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", "test-req")
	return req
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	return serve(r, newRequest(method, path, body))
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) middlewares.ErrorBody {
	t.Helper()
	var body middlewares.ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error body %q: %v", w.Body.String(), err)
	}
	return body
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("invalid body %q: %v", w.Body.String(), err)
	}
}
