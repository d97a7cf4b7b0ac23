package alert

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/credit"
	"github.com/credo/carbon-engine/internal/model"
	"github.com/credo/carbon-engine/internal/notify"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestEngine(t *testing.T) (*Engine, *notify.Sink) {
	t.Helper()
	sink := notify.NewSink(0)
	return NewEngine(credit.Default(), sink), sink
}

func TestAdd_Validation(t *testing.T) {
	e, _ := newTestEngine(t)

	cases := []model.AlertSpec{
		{AssetID: "ghost", TargetPrice: d(10), Condition: model.AlertAbove},
		{AssetID: "amazon-redd", TargetPrice: d(0), Condition: model.AlertAbove},
		{AssetID: "amazon-redd", TargetPrice: d(10), Condition: "sideways"},
	}
	for _, spec := range cases {
		if _, err := e.Add(spec); !errors.Is(err, ErrInvalidAlert) {
			t.Errorf("%+v: expected ErrInvalidAlert, got %v", spec, err)
		}
	}
	if len(e.List()) != 0 {
		t.Error("invalid alerts must not be stored")
	}
}

func TestOnPriceTick_FiresOnce(t *testing.T) {
	e, sink := newTestEngine(t)
	a, err := e.Add(model.AlertSpec{AssetID: "amazon-redd", TargetPrice: d(15), Condition: model.AlertAbove})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if fired := e.OnPriceTick("amazon-redd", d(14.99)); len(fired) != 0 {
		t.Fatalf("below target must not fire")
	}
	fired := e.OnPriceTick("amazon-redd", d(15))
	if len(fired) != 1 || fired[0].ID != a.ID || fired[0].Active || fired[0].TriggeredAt == nil {
		t.Fatalf("unexpected fired set %+v", fired)
	}
	if fired := e.OnPriceTick("amazon-redd", d(20)); len(fired) != 0 {
		t.Error("alert must not re-fire")
	}

	infos := 0
	for _, n := range sink.List() {
		if n.Type == model.NotifyInfo {
			infos++
		}
	}
	if infos != 1 {
		t.Errorf("expected exactly 1 info notification, got %d", infos)
	}
}

func TestOnPriceTick_Below(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Add(model.AlertSpec{AssetID: "gujarat-wind", TargetPrice: d(6), Condition: model.AlertBelow})

	if fired := e.OnPriceTick("gujarat-wind", d(6.01)); len(fired) != 0 {
		t.Error("above target must not fire a below alert")
	}
	if fired := e.OnPriceTick("amazon-redd", d(1)); len(fired) != 0 {
		t.Error("other asset must not fire")
	}
	if fired := e.OnPriceTick("gujarat-wind", d(5.5)); len(fired) != 1 {
		t.Error("expected below alert to fire")
	}
}

func TestRemove(t *testing.T) {
	e, _ := newTestEngine(t)
	a, _ := e.Add(model.AlertSpec{AssetID: "amazon-redd", TargetPrice: d(15), Condition: model.AlertAbove})

	if err := e.Remove(a.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := e.Remove(a.ID); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("expected ErrAlertNotFound, got %v", err)
	}
	if fired := e.OnPriceTick("amazon-redd", d(100)); len(fired) != 0 {
		t.Error("removed alert must not fire")
	}
}
