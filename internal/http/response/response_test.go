package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNewPaginationRoundsUp(t *testing.T) {
	p := NewPagination(2, 20, 41)
	if p.TotalPage != 3 || p.Page != 2 || p.Total != 41 {
		t.Fatalf("unexpected pagination: %+v", p)
	}
	if NewPagination(1, 0, 10).TotalPage != 0 {
		t.Fatalf("zero page size should yield zero pages")
	}
}

func TestErrorCarriesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set(RequestIDKey, "req-9")
	Error(c, CodeConflict, "already_redeemed")

	if w.Code != http.StatusOK {
		t.Fatalf("business errors keep http 200, got %d", w.Code)
	}
	var body Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.StatusCode != CodeConflict || body.Msg != "already_redeemed" || body.RequestID != "req-9" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestErrorWithStatusSetsHTTPStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	ErrorWithStatus(c, http.StatusBadRequest, CodeBadRequest, "webhook_invalid")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("http status = %d", w.Code)
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &raw)
	if _, ok := raw["request_id"]; ok {
		t.Fatalf("empty request id should be omitted")
	}
}
