// Package scenario runs scripted command and tick sequences through an
// engine. Scenarios are YAML documents:
//
//	owner: alice
//	starting_balance: 1000
//	steps:
//	  - tick: {asset_id: amazon-redd, price: 50}
//	  - order: {asset_id: amazon-redd, type: market, side: buy, quantity: 10}
//	    as: entry
//	  - order: {asset_id: amazon-redd, type: stop-loss, side: sell, quantity: 10, trigger_price: 40}
//	    as: stop
//	  - tick: {asset_id: amazon-redd, price: 39}
//	  - retire: {ref: entry, reason: "2024 offsets"}
//
// A step names exactly one action. Steps labelled with `as` can be referenced
// later by cancel (order legs) and retire (the certificate of a market buy).
package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/credo/carbon-engine/internal/engine"
	"github.com/credo/carbon-engine/internal/model"
	"github.com/credo/carbon-engine/internal/order"
)

var (
	ErrInvalidStep  = errors.New("scenario: invalid step")
	ErrUnknownLabel = errors.New("scenario: unknown label")
)

// Scenario is a decoded script.
type Scenario struct {
	Owner           string          `yaml:"owner"`
	StartingBalance decimal.Decimal `yaml:"starting_balance"`
	Steps           []Step          `yaml:"steps"`
}

// Step is one action. Exactly one action field must be set.
type Step struct {
	As string `yaml:"as,omitempty"`

	Deposit  *decimal.Decimal `yaml:"deposit,omitempty"`
	Withdraw *decimal.Decimal `yaml:"withdraw,omitempty"`
	Order    *model.OrderSpec `yaml:"order,omitempty"`
	Cancel   string           `yaml:"cancel,omitempty"`
	Alert    *model.AlertSpec `yaml:"alert,omitempty"`
	Tick     *model.Tick      `yaml:"tick,omitempty"`
	Retire   *RetireStep      `yaml:"retire,omitempty"`
	Holding  *HoldingStep     `yaml:"holding,omitempty"`
}

type RetireStep struct {
	Ref    string `yaml:"ref"`
	Reason string `yaml:"reason"`
}

type HoldingStep struct {
	AssetID     string          `yaml:"asset_id"`
	Quantity    decimal.Decimal `yaml:"quantity"`
	AvgBuyPrice decimal.Decimal `yaml:"avg_buy_price"`
}

// Action names the step's action, or "" when none or several are set.
func (s Step) Action() string {
	var names []string
	if s.Deposit != nil {
		names = append(names, "deposit")
	}
	if s.Withdraw != nil {
		names = append(names, "withdraw")
	}
	if s.Order != nil {
		names = append(names, "order")
	}
	if s.Cancel != "" {
		names = append(names, "cancel")
	}
	if s.Alert != nil {
		names = append(names, "alert")
	}
	if s.Tick != nil {
		names = append(names, "tick")
	}
	if s.Retire != nil {
		names = append(names, "retire")
	}
	if s.Holding != nil {
		names = append(names, "holding")
	}
	if len(names) != 1 {
		return ""
	}
	return names[0]
}

// Load decodes and validates a scenario.
func Load(r io.Reader) (*Scenario, error) {
	var sc Scenario
	if err := yaml.NewDecoder(r).Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	for i, st := range sc.Steps {
		if st.Action() == "" {
			return nil, fmt.Errorf("%w: step %d must name exactly one action", ErrInvalidStep, i+1)
		}
	}
	return &sc, nil
}

// StepResult is the outcome of one step. Error is empty on success.
type StepResult struct {
	Step   int                `json:"step"`
	Action string             `json:"action"`
	Error  string             `json:"error,omitempty"`
	Fills  []order.Fill       `json:"fills,omitempty"`
	Alerts []model.PriceAlert `json:"alerts,omitempty"`
}

// Result is the step log plus the final read model.
type Result struct {
	Steps    []StepResult   `json:"steps"`
	Snapshot model.Snapshot `json:"snapshot"`
}

// Run executes every step against eng in order. Domain failures such as
// insufficient funds are recorded on the step and do not stop the run; only
// an unknown label or a cancelled ctx does.
func Run(ctx context.Context, eng *engine.Engine, sc *Scenario) (*Result, error) {
	r := &runner{
		eng:    eng,
		orders: make(map[string]string),
		certs:  make(map[string]string),
	}
	res := &Result{}
	for i, st := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sr := StepResult{Step: i + 1, Action: st.Action()}
		if err := r.apply(ctx, st, &sr); err != nil {
			if errors.Is(err, ErrUnknownLabel) || errors.Is(err, ErrInvalidStep) {
				return nil, fmt.Errorf("step %d: %w", i+1, err)
			}
			sr.Error = err.Error()
		}
		res.Steps = append(res.Steps, sr)
	}
	res.Snapshot = eng.Snapshot()
	return res, nil
}

type runner struct {
	eng    *engine.Engine
	orders map[string]string // label -> first order leg id
	certs  map[string]string // label -> certificate id
}

func (r *runner) apply(ctx context.Context, st Step, sr *StepResult) error {
	switch sr.Action {
	case "deposit":
		_, err := r.eng.Deposit(ctx, *st.Deposit)
		return err
	case "withdraw":
		_, err := r.eng.Withdraw(ctx, *st.Withdraw)
		return err
	case "order":
		pl, err := r.eng.PlaceOrder(ctx, *st.Order)
		if st.As != "" {
			if len(pl.Orders) > 0 {
				r.orders[st.As] = pl.Orders[0].ID
			}
			if pl.Trade != nil && pl.Trade.Certificate != nil {
				r.certs[st.As] = pl.Trade.Certificate.ID
			}
		}
		return err
	case "cancel":
		id, ok := r.orders[st.Cancel]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownLabel, st.Cancel)
		}
		_, err := r.eng.CancelOrder(ctx, id)
		return err
	case "alert":
		_, err := r.eng.AddPriceAlert(*st.Alert)
		return err
	case "tick":
		report, err := r.eng.ProcessTick(ctx, *st.Tick)
		sr.Fills, sr.Alerts = report.Fills, report.Alerts
		return err
	case "retire":
		id, ok := r.certs[st.Retire.Ref]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownLabel, st.Retire.Ref)
		}
		_, err := r.eng.RetireCertificate(ctx, id, st.Retire.Reason)
		return err
	case "holding":
		_, err := r.eng.AddHolding(ctx, st.Holding.AssetID, st.Holding.Quantity, st.Holding.AvgBuyPrice)
		return err
	default:
		return ErrInvalidStep
	}
}
