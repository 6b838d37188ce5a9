package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithQuery(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=10&offset=20", 10, 20},
		{"?limit=100000", MaxLimit, 0},
		{"?limit=-5&offset=-3", DefaultLimit, 0},
		{"?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := FromContext(contextWithQuery(tt.query))
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d, want limit=%d offset=%d",
					p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name       string
		p          Params
		n          int
		start, end int
	}{
		{"first page", Params{Limit: 2, Offset: 0}, 5, 0, 2},
		{"last partial page", Params{Limit: 2, Offset: 4}, 5, 4, 5},
		{"offset past end", Params{Limit: 2, Offset: 9}, 5, 5, 5},
		{"empty list", Params{Limit: 2, Offset: 0}, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := tt.p.Window(tt.n)
			if start != tt.start || end != tt.end {
				t.Errorf("Window(%d) = [%d:%d], want [%d:%d]", tt.n, start, end, tt.start, tt.end)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 5, 2, 0)
	if !resp.HasMore {
		t.Error("expected has_more with 5 total and first page of 2")
	}
	resp = NewResponse([]string{"e"}, 5, 2, 4)
	if resp.HasMore {
		t.Error("expected no more results on last page")
	}
	if resp.Total != 5 || resp.Limit != 2 || resp.Offset != 4 {
		t.Errorf("unexpected response %+v", resp)
	}
}
