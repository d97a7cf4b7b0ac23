package credit

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Catalog is the registry of tradable assets, kept in registration order.
type Catalog struct {
	mu     sync.RWMutex
	assets map[string]Asset
	order  []string
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{assets: make(map[string]Asset)}
}

// Register validates and adds an asset.
func (c *Catalog) Register(a Asset) error {
	if err := a.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.assets[a.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAsset, a.ID)
	}
	for _, existing := range c.assets {
		if existing.Ticker == a.Ticker {
			return fmt.Errorf("%w: ticker %s", ErrDuplicateAsset, a.Ticker)
		}
	}
	c.assets[a.ID] = a
	c.order = append(c.order, a.ID)
	return nil
}

// Get returns the asset with the given id or ErrUnknownAsset.
func (c *Catalog) Get(id string) (Asset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.assets[id]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, id)
	}
	return a, nil
}

// List returns all assets in registration order.
func (c *Catalog) List() []Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Asset, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.assets[id])
	}
	return out
}

// IDs returns all asset ids in registration order.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]string(nil), c.order...)
}

// Default returns a catalog seeded with the simulated market listings.
func Default() *Catalog {
	c := NewCatalog()
	for _, a := range defaultAssets {
		if err := c.Register(a); err != nil {
			panic(fmt.Sprintf("credit: bad default asset %s: %v", a.ID, err))
		}
	}
	return c
}

var defaultAssets = []Asset{
	{
		ID: "amazon-redd", ExternalID: "VCS-1112", Ticker: "VCS-AMZN-2021",
		Name: "Amazon Rainforest REDD+", Type: Forestry, Source: SourceVerra,
		Vintage: 2021, Certification: "Verra VCS", Location: "Pará, Brazil",
		Price: decimal.RequireFromString("14.50"),
	},
	{
		ID: "gujarat-wind", ExternalID: "GS-4410", Ticker: "GS-GUJW-2022",
		Name: "Gujarat Wind Power", Type: RenewableEnergy, Source: SourceGoldStandard,
		Vintage: 2022, Certification: "Gold Standard", Location: "Gujarat, India",
		Price: decimal.RequireFromString("6.20"),
	},
	{
		ID: "ohio-landfill", ExternalID: "ACR-0981", Ticker: "ACR-OHLF-2020",
		Name: "Ohio Landfill Methane Capture", Type: MethaneCapture, Source: SourceCBL,
		Vintage: 2020, Certification: "American Carbon Registry", Location: "Ohio, USA",
		Price: decimal.RequireFromString("9.75"),
	},
	{
		ID: "sundarbans-mangrove", ExternalID: "VCS-2250", Ticker: "VCS-SNDB-2023",
		Name: "Sundarbans Mangrove Restoration", Type: BlueCarbon, Source: SourceACX,
		Vintage: 2023, Certification: "Verra VCS + CCB", Location: "West Bengal, India",
		Price: decimal.RequireFromString("24.00"),
	},
	{
		ID: "kenya-cookstoves", ExternalID: "GS-7731", Ticker: "GS-KCKS-2022",
		Name: "Kenya Clean Cookstoves", Type: Community, Source: SourceCredo,
		Vintage: 2022, Certification: "Gold Standard", Location: "Nairobi, Kenya",
		Price: decimal.RequireFromString("11.30"),
	},
	{
		ID: "toucan-bct", ExternalID: "BCT", Ticker: "TCO-BCT-2019",
		Name: "Toucan Base Carbon Tonne", Type: Forestry, Source: SourceToucan,
		Vintage: 2019, Certification: "Verra VCS (tokenized)", Location: "Polygon",
		Price: decimal.RequireFromString("1.85"),
	},
}
