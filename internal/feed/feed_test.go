package feed

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestSynthetic_DeterministicForSeed(t *testing.T) {
	src := &SyntheticSource{Seed: 7, Start: map[string]decimal.Decimal{"a": d(10), "b": d(20)}}
	first := src.Generate([]string{"a", "b"}, 20, epoch)
	second := src.Generate([]string{"a", "b"}, 20, epoch)

	if len(first) != 40 {
		t.Fatalf("expected 40 ticks, got %d", len(first))
	}
	for i := range first {
		if first[i].AssetID != second[i].AssetID || !first[i].Price.Equal(second[i].Price) {
			t.Fatalf("tick %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
	if first[0].AssetID != "a" || first[1].AssetID != "b" {
		t.Error("assets should be emitted in request order each round")
	}
	if !first[2].Timestamp.Equal(epoch.Add(time.Second)) {
		t.Errorf("rounds should be one interval apart, got %v", first[2].Timestamp)
	}
}

func TestSynthetic_StaysWithinVolatilityAndFloor(t *testing.T) {
	src := &SyntheticSource{
		Seed:       42,
		Volatility: d(0.5),
		MinPrice:   d(1),
		Start:      map[string]decimal.Decimal{"a": d(2)},
	}
	prev := d(2)
	for _, tk := range src.Generate([]string{"a"}, 500, epoch) {
		if tk.Price.LessThan(d(1)) {
			t.Fatalf("price %s fell below the floor", tk.Price)
		}
		// ±50% of the previous price plus rounding slack.
		if tk.Price.Sub(prev).Abs().GreaterThan(prev.Mul(d(0.5)).Add(d(0.01))) && !tk.Price.Equal(d(1)) {
			t.Fatalf("step from %s to %s exceeds volatility", prev, tk.Price)
		}
		if tk.Price.Exponent() < -2 {
			t.Fatalf("price %s not rounded to cents", tk.Price)
		}
		prev = tk.Price
	}
}

func TestSynthetic_RunStopsOnCancel(t *testing.T) {
	src := &SyntheticSource{Interval: time.Millisecond, Start: map[string]decimal.Decimal{"a": d(5)}}
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan model.Tick, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- src.Run(ctx, []string{"a"}, func(tk model.Tick) {
			select {
			case got <- tk:
			default:
			}
		})
	}()

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick emitted")
	}
	cancel()
	if err := <-errc; err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestReplaySource_FiltersAndOrders(t *testing.T) {
	src := &ReplaySource{Ticks: []model.Tick{
		{AssetID: "a", Price: d(1)},
		{AssetID: "b", Price: d(2)},
		{AssetID: "a", Price: d(3)},
	}}

	var seen []string
	err := src.Run(context.Background(), []string{"a"}, func(tk model.Tick) {
		seen = append(seen, tk.Price.String())
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Join(seen, ",") != "1,3" {
		t.Errorf("expected 1,3 got %v", seen)
	}
}

func TestLoadTicks(t *testing.T) {
	doc := `
ticks:
  - asset_id: amazon-redd
    price: 14.75
    timestamp: 2024-01-01T00:00:00Z
  - asset_id: gujarat-wind
    price: "6.10"
`
	ticks, err := LoadTicks(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
	if !ticks[0].Price.Equal(d(14.75)) || !ticks[0].Timestamp.Equal(epoch) {
		t.Errorf("unexpected first tick %+v", ticks[0])
	}
	if !ticks[1].Price.Equal(d(6.1)) {
		t.Errorf("unexpected second tick %+v", ticks[1])
	}

	if _, err := LoadTicks(strings.NewReader("ticks:\n  - asset_id: x\n    price: 0\n")); err == nil {
		t.Error("expected error for non-positive price")
	}
}

func TestManager_FanOutAndLatest(t *testing.T) {
	m := NewManager(nil, nil, 0)
	_, a := m.Subscribe(4)
	_, b := m.Subscribe(4)

	m.Publish(model.Tick{AssetID: "x", Price: d(1)})
	m.Publish(model.Tick{AssetID: "x", Price: d(2)})

	for _, ch := range []<-chan model.Tick{a, b} {
		if tk := <-ch; !tk.Price.Equal(d(1)) {
			t.Errorf("expected first tick 1, got %s", tk.Price)
		}
		if tk := <-ch; !tk.Price.Equal(d(2)) {
			t.Errorf("expected second tick 2, got %s", tk.Price)
		}
	}
	if last, ok := m.Latest("x"); !ok || !last.Price.Equal(d(2)) {
		t.Errorf("expected latest 2, got %+v", last)
	}
	if _, ok := m.Latest("y"); ok {
		t.Error("unknown asset should have no latest tick")
	}
}

func TestManager_DropsSlowSubscriber(t *testing.T) {
	m := NewManager(nil, nil, 0)
	_, slow := m.Subscribe(1)

	m.Publish(model.Tick{AssetID: "x", Price: d(1)})
	m.Publish(model.Tick{AssetID: "x", Price: d(2)})

	<-slow
	if _, ok := <-slow; ok {
		t.Error("slow subscriber channel should be closed")
	}
}

func TestManager_LatestSubscriberKeepsNewestTicks(t *testing.T) {
	m := NewManager(nil, nil, 0)
	_, ch := m.SubscribeLatest(2)

	for i := 1; i <= 5; i++ {
		m.Publish(model.Tick{AssetID: "x", Price: d(float64(i))})
	}

	if tk, ok := <-ch; !ok || !tk.Price.Equal(d(4)) {
		t.Fatalf("expected tick 4 after overflow, got %+v (open=%v)", tk, ok)
	}
	if tk := <-ch; !tk.Price.Equal(d(5)) {
		t.Errorf("expected tick 5, got %s", tk.Price)
	}
	if m.Skipped() != 3 {
		t.Errorf("expected 3 skipped ticks, got %d", m.Skipped())
	}

	m.Publish(model.Tick{AssetID: "x", Price: d(6)})
	if tk, ok := <-ch; !ok || !tk.Price.Equal(d(6)) {
		t.Errorf("subscriber should still receive after overflow, got %+v (open=%v)", tk, ok)
	}
}

func TestManager_Throttles(t *testing.T) {
	m := NewManager(nil, []string{"x"}, 1)
	_, ch := m.Subscribe(16)

	for i := 0; i < 5; i++ {
		m.Publish(model.Tick{AssetID: "x", Price: d(float64(i + 1))})
	}
	if len(ch) != 1 {
		t.Errorf("expected 1 tick through a burst of 1, got %d", len(ch))
	}
	if m.Dropped() != 4 {
		t.Errorf("expected 4 dropped, got %d", m.Dropped())
	}
}

func TestManager_StartClosesSubscribersWhenSourceEnds(t *testing.T) {
	src := &ReplaySource{Ticks: []model.Tick{{AssetID: "x", Price: d(1)}, {AssetID: "x", Price: d(2)}}}
	m := NewManager(src, nil, 0)
	_, ch := m.Subscribe(8)
	m.Start(context.Background())

	var n int
	for range ch {
		n++
	}
	if n != 2 {
		t.Errorf("expected 2 ticks before close, got %d", n)
	}
}
