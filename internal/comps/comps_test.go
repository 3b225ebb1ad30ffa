package comps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jkowitt/loud-legacy-sub001/internal/cache"
	"github.com/jkowitt/loud-legacy-sub001/internal/rentcast"
	"github.com/jkowitt/loud-legacy-sub001/internal/resolver"
)

// fakeSales 按半径返回预置的成交列表
type fakeSales struct {
	mu       sync.Mutex
	byRadius map[float64][]rentcast.Property
	errAt    map[float64]error
	radii    []float64
	delay    time.Duration
}

func (f *fakeSales) Configured() bool { return true }

func (f *fakeSales) SaleComps(ctx context.Context, q rentcast.CompQuery) ([]rentcast.Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.radii = append(f.radii, q.RadiusMiles)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errAt[q.RadiusMiles]; err != nil {
		return nil, err
	}
	return f.byRadius[q.RadiusMiles], nil
}

type fakeEstimator struct {
	reply string
	calls int
}

func (f *fakeEstimator) Configured() bool { return true }

func (f *fakeEstimator) ChatJSON(_ context.Context, _, _ string, _ int, _ float64, out any) error {
	f.calls++
	return json.Unmarshal([]byte(f.reply), out)
}

func sales(n int, baseDist float64) []rentcast.Property {
	out := make([]rentcast.Property, n)
	for i := range out {
		price := 300000.0 + float64(i)*1000
		sqft := 1500.0
		dist := baseDist - float64(i)*0.05
		out[i] = rentcast.Property{
			ID:               fmt.Sprintf("p%d", i),
			FormattedAddress: fmt.Sprintf("%d Oak St, Springfield, IL", 100+i),
			LastSalePrice:    &price,
			LastSaleDate:     "2026-08-01",
			SquareFootage:    &sqft,
			Distance:         &dist,
		}
	}
	return out
}

func newService(primary SalesSource, est Estimator) *Service {
	return NewService(cache.NewMemory[Response](cache.Options{Name: "comps"}), primary, est, time.Second)
}

var subject = Request{Address: "123 Main St", City: "Springfield", State: "IL"}

func TestRadiusExpansion(t *testing.T) {
	f := &fakeSales{byRadius: map[float64][]rentcast.Property{
		InitialRadius:  sales(2, 0.4),
		ExpandedRadius: sales(6, 0.9),
	}}
	res, err := newService(f, nil).Lookup(context.Background(), subject)
	if err != nil {
		t.Fatal(err)
	}
	r := res.Response
	if len(r.Comps) != 6 || r.RadiusUsed != 1.0 || !r.Expanded || !r.Billable() {
		t.Fatalf("response = %+v", r)
	}
	if len(f.radii) != 2 {
		t.Fatalf("radii queried = %v, want two attempts", f.radii)
	}
	for i := 1; i < len(r.Comps); i++ {
		if *r.Comps[i-1].DistanceMiles > *r.Comps[i].DistanceMiles {
			t.Fatalf("comps not sorted by distance: %v then %v", *r.Comps[i-1].DistanceMiles, *r.Comps[i].DistanceMiles)
		}
	}
	want := "6 verified sales found within 1 mi (6-month lookback). Radius was expanded to 1 mile to find enough comparable sales."
	if r.Disclaimer != want {
		t.Fatalf("disclaimer = %q", r.Disclaimer)
	}
	if r.Comps[0].PricePerSqft == nil || *r.Comps[0].PricePerSqft != 203 {
		t.Fatalf("price per sqft = %v", r.Comps[0].PricePerSqft)
	}
}

func TestNoExpansionWhenEnough(t *testing.T) {
	f := &fakeSales{byRadius: map[float64][]rentcast.Property{InitialRadius: sales(5, 0.45)}}
	res, _ := newService(f, nil).Lookup(context.Background(), Request{Address: "1 A", City: "B", State: "C", Limit: 3})
	r := res.Response
	if r.Expanded || r.RadiusUsed != 0.5 || len(f.radii) != 1 {
		t.Fatalf("response = %+v radii=%v", r, f.radii)
	}
	if len(r.Comps) != 3 || r.TotalFound != 5 {
		t.Fatalf("comps=%d total=%d", len(r.Comps), r.TotalFound)
	}
}

func TestNoSalesIsUnbilledSuccess(t *testing.T) {
	est := &fakeEstimator{reply: `{"comps":[{"address":"1 B St","salePrice":1}]}`}
	f := &fakeSales{}
	res, err := newService(f, est).Lookup(context.Background(), subject)
	if err != nil {
		t.Fatal(err)
	}
	r := res.Response
	if !r.Success || r.Source != resolver.SourceRentCast || len(r.Comps) != 0 || r.Billable() {
		t.Fatalf("response = %+v", r)
	}
	if r.Message != MessageNoSales || r.RadiusUsed != 1.0 || r.Expanded {
		t.Fatalf("response = %+v", r)
	}
	if est.calls != 0 {
		t.Fatal("an empty verified answer must not fall through to estimates")
	}
	if r.Comps == nil {
		t.Fatal("comps should serialize as an empty list")
	}
}

func TestExpansionErrorKeepsInitialResults(t *testing.T) {
	f := &fakeSales{
		byRadius: map[float64][]rentcast.Property{InitialRadius: sales(2, 0.3)},
		errAt:    map[float64]error{ExpandedRadius: resolver.HTTPFailure(rentcast.Name, 500, "")},
	}
	res, _ := newService(f, nil).Lookup(context.Background(), subject)
	r := res.Response
	if r.Source != resolver.SourceRentCast || len(r.Comps) != 2 || r.RadiusUsed != 0.5 || r.Expanded {
		t.Fatalf("response = %+v", r)
	}
}

func TestProviderFailureFallsBackToEstimate(t *testing.T) {
	f := &fakeSales{errAt: map[float64]error{InitialRadius: errors.New("connection reset")}}
	est := &fakeEstimator{reply: `{"comps":[{"address":"9 Elm St","salePrice":410000,"squareFeet":2000,"distanceMiles":0.7},{"address":"7 Elm St","salePrice":400000,"distanceMiles":0.2}]}`}
	res, _ := newService(f, est).Lookup(context.Background(), subject)
	r := res.Response
	if r.Source != resolver.SourceOpenAI || r.Billable() || r.Disclaimer != DisclaimerEstimate {
		t.Fatalf("response = %+v", r)
	}
	if r.Comps[0].Address != "7 Elm St" {
		t.Fatalf("estimates should be sorted by distance, got %+v", r.Comps)
	}
}

func TestUnconfiguredIsUnavailable(t *testing.T) {
	s := newService(nil, nil)
	for i := 0; i < 2; i++ {
		res, err := s.Lookup(context.Background(), subject)
		if err != nil {
			t.Fatal(err)
		}
		r := res.Response
		if r.Success || r.Source != resolver.SourceUnavailable || r.Disclaimer != DisclaimerNoProvider || res.CacheHit {
			t.Fatalf("response = %+v", res)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct{ months, limit, wantMonths, wantLimit int }{
		{0, 0, 6, 6},
		{9, 20, 9, 15},
		{7, -1, 6, 6},
		{12, 1, 12, 1},
	}
	for _, c := range cases {
		got := Request{LookbackMonths: c.months, Limit: c.limit}.Normalize()
		if got.LookbackMonths != c.wantMonths || got.Limit != c.wantLimit {
			t.Errorf("Normalize(%d,%d) = %d,%d", c.months, c.limit, got.LookbackMonths, got.Limit)
		}
	}
}

func TestCacheKeyIncludesOptions(t *testing.T) {
	a := Request{Address: "1 A", City: "B", State: "C"}.Normalize()
	b := Request{Address: "1 A", City: "B", State: "C", LookbackMonths: 12}.Normalize()
	if a.CacheKey() == b.CacheKey() {
		t.Fatal("lookback should be part of the cache key")
	}
	lat, lng, other := 40.123456, -89.5, 40.2
	c := Request{Address: "1 A", City: "B", State: "C", Latitude: &lat, Longitude: &lng}.Normalize()
	d := Request{Address: "1 A", City: "B", State: "C", Latitude: &other, Longitude: &lng}.Normalize()
	if a.CacheKey() == c.CacheKey() || c.CacheKey() == d.CacheKey() {
		t.Fatal("subject coordinates should be part of the cache key")
	}
	near := 40.1234561
	e := Request{Address: "1 A", City: "B", State: "C", Latitude: &near, Longitude: &lng}.Normalize()
	if c.CacheKey() != e.CacheKey() {
		t.Fatal("coordinates are rounded before keying")
	}
	z := Request{Address: "1 A", City: "B", State: "C", ZipCode: "62701"}.Normalize()
	if a.CacheKey() == z.CacheKey() {
		t.Fatal("zip code should be part of the cache key")
	}
}

func TestHaversine(t *testing.T) {
	// roughly one degree of latitude
	d := Haversine(40, -89, 41, -89)
	if math.Abs(d-69.09) > 0.1 {
		t.Fatalf("haversine = %v", d)
	}
	if Haversine(40, -89, 40, -89) != 0 {
		t.Fatal("zero distance expected")
	}
}

func TestDistanceFromSubjectCoordinates(t *testing.T) {
	lat, lng := 40.0, -89.0
	near, far := 40.001, 40.005
	price := 200000.0
	props := []rentcast.Property{
		{ID: "far", LastSalePrice: &price, Latitude: &far, Longitude: &lng},
		{ID: "near", LastSalePrice: &price, Latitude: &near, Longitude: &lng},
		{ID: "unknown", LastSalePrice: &price},
		{ID: "unsold"},
	}
	cs := toComps(props, &lat, &lng)
	sortByDistance(cs)
	if len(cs) != 3 || cs[0].ID != "near" || cs[1].ID != "far" || cs[2].ID != "unknown" {
		t.Fatalf("order = %+v", cs)
	}
}

func TestRequestAcceptsStringNumbers(t *testing.T) {
	var r Request
	body := `{"address":"1 A","city":"B","state":"C","lookbackMonths":"9","limit":"20","latitude":"40.5","longitude":-89.1}`
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		t.Fatal(err)
	}
	r = r.Normalize()
	if r.LookbackMonths != 9 || r.Limit != 15 || r.Latitude == nil || *r.Latitude != 40.5 || *r.Longitude != -89.1 {
		t.Fatalf("request = %+v", r)
	}
	if err := json.Unmarshal([]byte(`{"address":"1 A","lookbackMonths":"soon"}`), &r); err != nil {
		t.Fatal(err)
	}
	if r.City != "" || r.Normalize().LookbackMonths != 6 {
		t.Fatalf("request = %+v", r)
	}
}

func TestRequestRejectsNonFiniteNumbers(t *testing.T) {
	var r Request
	body := `{"address":"1 A","city":"B","state":"C","latitude":"NaN","longitude":"-Inf","limit":"+Inf"}`
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		t.Fatal(err)
	}
	if r.Latitude != nil || r.Longitude != nil || r.Limit != 0 {
		t.Fatalf("request = %+v", r)
	}
}

func TestValidateCoordinates(t *testing.T) {
	lat, lng := 91.0, -89.0
	r := Request{Address: "1 A", City: "B", State: "C", Latitude: &lat, Longitude: &lng}
	if err := r.Validate(); !errors.Is(err, ErrInvalidCoordinates) {
		t.Fatalf("err = %v", err)
	}
	lat = 40
	if err := r.Validate(); err != nil {
		t.Fatalf("err = %v", err)
	}
	lng = 181
	if err := r.Validate(); !errors.Is(err, ErrInvalidCoordinates) {
		t.Fatalf("err = %v", err)
	}
}

func TestExpansionGetsItsOwnTimeout(t *testing.T) {
	f := &fakeSales{
		delay: 60 * time.Millisecond,
		byRadius: map[float64][]rentcast.Property{
			InitialRadius:  sales(2, 0.4),
			ExpandedRadius: sales(6, 0.9),
		},
	}
	s := NewService(cache.NewMemory[Response](cache.Options{Name: "comps"}), f, nil, 100*time.Millisecond)
	res, err := s.Lookup(context.Background(), subject)
	if err != nil {
		t.Fatal(err)
	}
	r := res.Response
	if len(r.Comps) != 6 || !r.Expanded || r.RadiusUsed != ExpandedRadius {
		t.Fatalf("comps=%d expanded=%v radius=%v", len(r.Comps), r.Expanded, r.RadiusUsed)
	}
}

func TestSlowCallTimesOut(t *testing.T) {
	f := &fakeSales{delay: time.Second, byRadius: map[float64][]rentcast.Property{InitialRadius: sales(5, 0.4)}}
	s := NewService(cache.NewMemory[Response](cache.Options{Name: "comps"}), f, nil, 20*time.Millisecond)
	res, _ := s.Lookup(context.Background(), subject)
	if res.Response.Source != resolver.SourceUnavailable || res.Response.Disclaimer != DisclaimerDown {
		t.Fatalf("response = %+v", res.Response)
	}
}
