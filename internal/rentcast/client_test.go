package rentcast

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jkowitt/loud-legacy-sub001/internal/resolver"
)

func TestPropertySendsKeyAndAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "rc-key" {
			t.Errorf("api key header = %q", r.Header.Get("X-Api-Key"))
		}
		if got := r.URL.Query().Get("address"); got != "123 Main St, Springfield, IL 62701" {
			t.Errorf("address = %q", got)
		}
		_, _ = w.Write([]byte(`[{"id":"p1","lotSize":10890,"lastSaleDate":"2021-05-01T00:00:00.000Z","lastSalePrice":250000}]`))
	}))
	defer srv.Close()

	c := NewClient("rc-key", srv.URL, time.Second)
	p, err := c.Property(context.Background(), "123 Main St", "Springfield", "IL", "62701")
	if err != nil {
		t.Fatalf("Property: %v", err)
	}
	if p == nil || p.ID != "p1" || *p.LotSize != 10890 {
		t.Fatalf("unexpected property %+v", p)
	}
}

func TestPropertyNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p, err := NewClient("k", srv.URL, time.Second).Property(context.Background(), "a", "b", "c", "")
	if err != nil || p != nil {
		t.Fatalf("expected (nil, nil), got %+v %v", p, err)
	}
}

func TestPropertyStatusFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	_, err := NewClient("k", srv.URL, time.Second).Property(context.Background(), "a", "b", "c", "")
	var f *resolver.Failure
	if !errors.As(err, &f) || f.Kind != resolver.KindHTTP || f.Status != http.StatusPaymentRequired {
		t.Fatalf("expected http failure, got %v", err)
	}
}

func TestPropertyMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":`))
	}))
	defer srv.Close()

	_, err := NewClient("k", srv.URL, time.Second).Property(context.Background(), "a", "b", "c", "")
	var f *resolver.Failure
	if !errors.As(err, &f) || f.Kind != resolver.KindDecode {
		t.Fatalf("expected decode failure, got %v", err)
	}
}

func TestSaleCompsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("radius") != "0.5" || q.Get("saleDateRange") != "180" || q.Get("limit") != "15" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if q.Get("latitude") != "39.781700" || q.Get("address") != "" {
			t.Errorf("expected coordinate search, got %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[{"id":"a"},{"id":"b"}]`))
	}))
	defer srv.Close()

	lat, lon := 39.7817, -89.6501
	props, err := NewClient("k", srv.URL, time.Second).SaleComps(context.Background(), CompQuery{
		Address: "x", Latitude: &lat, Longitude: &lon, RadiusMiles: 0.5, SaleDateRange: 180, Limit: 15,
	})
	if err != nil || len(props) != 2 {
		t.Fatalf("SaleComps = %d, %v", len(props), err)
	}
}

func TestDecodeSingleObject(t *testing.T) {
	props, err := decodeProperties([]byte(`{"id":"solo"}`))
	if err != nil || len(props) != 1 || props[0].ID != "solo" {
		t.Fatalf("decode = %+v %v", props, err)
	}
}
