// Package credit handles carbon credit ticker parsing, validation, and the
// catalog of tradable credit assets.
package credit

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"
)

// ProjectType is the category of the underlying carbon project.
type ProjectType string

// Supported project types.
const (
	Forestry        ProjectType = "Forestry"
	RenewableEnergy ProjectType = "Renewable Energy"
	MethaneCapture  ProjectType = "Methane Capture"
	BlueCarbon      ProjectType = "Blue Carbon"
	Community       ProjectType = "Community"
)

var validTypes = map[ProjectType]bool{
	Forestry:        true,
	RenewableEnergy: true,
	MethaneCapture:  true,
	BlueCarbon:      true,
	Community:       true,
}

// ExchangeSource is the venue a credit is listed on.
type ExchangeSource string

const (
	SourceToucan       ExchangeSource = "Toucan Protocol"
	SourceCBL          ExchangeSource = "CBL Markets"
	SourceACX          ExchangeSource = "AirCarbon Exchange"
	SourceGoldStandard ExchangeSource = "Gold Standard Marketplace"
	SourceVerra        ExchangeSource = "Verra Registry"
	SourceCredo        ExchangeSource = "Credo Direct"
)

// tickerRegex matches: {REGISTRY}-{PROJECT}-{YYYY}
// Example: VCS-AMZN-2021
var tickerRegex = regexp.MustCompile(`^([A-Z]{2,5})-([A-Z0-9]{2,8})-(\d{4})$`)

const (
	minVintage = 2000
	maxVintage = 2100
)

var (
	ErrInvalidTicker  = errors.New("credit: invalid ticker format")
	ErrInvalidVintage = errors.New("credit: vintage out of range")
	ErrInvalidType    = errors.New("credit: unsupported project type")
	ErrInvalidPrice   = errors.New("credit: reference price must be positive")
	ErrDuplicateAsset = errors.New("credit: asset already registered")

	// ErrUnknownAsset signals that an engine-internal call referenced an
	// asset id the catalog does not know. Callers treat it as a defect.
	ErrUnknownAsset = errors.New("credit: unknown asset")
)

// Ticker is a parsed credit ticker.
type Ticker struct {
	Symbol   string `json:"symbol"`
	Registry string `json:"registry"`
	Project  string `json:"project"`
	Vintage  int    `json:"vintage"`
}

// ParseTicker parses and validates a credit ticker string.
// Format: {REGISTRY}-{PROJECT}-{YYYY}
func ParseTicker(ticker string) (*Ticker, error) {
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected {REGISTRY}-{PROJECT}-{YYYY})",
			ErrInvalidTicker, ticker)
	}

	vintage, err := strconv.Atoi(matches[3])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTicker, ticker)
	}
	if vintage < minVintage || vintage > maxVintage {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVintage, vintage)
	}

	return &Ticker{
		Symbol:   ticker,
		Registry: matches[1],
		Project:  matches[2],
		Vintage:  vintage,
	}, nil
}

// Asset is one tradable carbon credit listing.
type Asset struct {
	ID            string          `json:"id"`
	ExternalID    string          `json:"external_id"`
	Ticker        string          `json:"ticker"`
	Name          string          `json:"name"`
	Type          ProjectType     `json:"type"`
	Source        ExchangeSource  `json:"source_exchange"`
	Vintage       int             `json:"vintage"`
	Certification string          `json:"certification"`
	Location      string          `json:"location"`
	Price         decimal.Decimal `json:"price"` // reference price before any tick arrives
}

// Validate checks the asset's ticker, vintage, type and price.
func (a Asset) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTicker)
	}
	parsed, err := ParseTicker(a.Ticker)
	if err != nil {
		return err
	}
	if parsed.Vintage != a.Vintage {
		return fmt.Errorf("%w: ticker %s says %d, asset says %d",
			ErrInvalidVintage, a.Ticker, parsed.Vintage, a.Vintage)
	}
	if !validTypes[a.Type] {
		return fmt.Errorf("%w: %s", ErrInvalidType, a.Type)
	}
	if !a.Price.IsPositive() {
		return ErrInvalidPrice
	}
	return nil
}
