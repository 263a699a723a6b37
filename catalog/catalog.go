// catalog/catalog.go
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
)

//go:embed cards.json
var defaultCards []byte

var (
	ErrItemNotFound   = errors.New("item not found")
	ErrUnknownRarity  = errors.New("unknown rarity")
	ErrDuplicateItem  = errors.New("duplicate item name")
	ErrEmptyCatalog   = errors.New("catalog is empty")
	ErrUnknownKind    = errors.New("unknown item type")
	ErrInvalidAttrVal = errors.New("invalid attribute value")
)

// Rarity 稀有度，按 rarityRank 排序而不是按字母序
type Rarity string

const (
	RarityCommon    Rarity = "Common"
	RarityRare      Rarity = "Rare"
	RarityEpic      Rarity = "Epic"
	RarityLegendary Rarity = "Legendary"
	RarityChampion  Rarity = "Champion"
)

var rarityRank = map[Rarity]int{
	RarityCommon:    0,
	RarityRare:      1,
	RarityEpic:      2,
	RarityLegendary: 3,
	RarityChampion:  4,
}

// Rank returns the ordinal position of the rarity and false if it is unknown.
func (r Rarity) Rank() (int, bool) {
	rank, ok := rarityRank[r]
	return rank, ok
}

// Kind 卡牌类型 (无序类别)
type Kind string

const (
	KindTroop    Kind = "Troop"
	KindBuilding Kind = "Building"
	KindSpell    Kind = "Spell"
)

// Item is one guessable entry of the catalog.
type Item struct {
	Name       string `json:"name"`
	Cost       int    `json:"cost"`
	Rarity     Rarity `json:"rarity"`
	Type       Kind   `json:"type"`
	Tier       int    `json:"tier"`
	HasVariant bool   `json:"hasVariant"`
}

func (it Item) validate() error {
	if it.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidAttrVal)
	}
	if _, ok := it.Rarity.Rank(); !ok {
		return fmt.Errorf("%w: %q on %q", ErrUnknownRarity, it.Rarity, it.Name)
	}
	switch it.Type {
	case KindTroop, KindBuilding, KindSpell:
	default:
		return fmt.Errorf("%w: %q on %q", ErrUnknownKind, it.Type, it.Name)
	}
	if it.Cost < 0 || it.Tier < 0 {
		return fmt.Errorf("%w: negative cost or tier on %q", ErrInvalidAttrVal, it.Name)
	}
	return nil
}

// Catalog is immutable after construction and safe for concurrent reads.
type Catalog struct {
	items  []Item
	byName map[string]int
}

// New validates items and builds a catalog preserving their order.
func New(items []Item) (*Catalog, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{
		items:  make([]Item, len(items)),
		byName: make(map[string]int, len(items)),
	}
	copy(c.items, items)

	for i, it := range c.items {
		if err := it.validate(); err != nil {
			return nil, err
		}
		if _, exists := c.byName[it.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateItem, it.Name)
		}
		c.byName[it.Name] = i
	}
	return c, nil
}

// Load reads a JSON array of items.
func Load(r io.Reader) (*Catalog, error) {
	var items []Item
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(items)
}

// LoadFile loads the catalog at path, or the embedded default when path is empty.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Default returns the embedded card catalog.
func Default() (*Catalog, error) {
	var items []Item
	if err := json.Unmarshal(defaultCards, &items); err != nil {
		return nil, fmt.Errorf("decode embedded catalog: %w", err)
	}
	return New(items)
}

// Lookup finds an item by its exact name.
func (c *Catalog) Lookup(name string) (Item, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Item{}, false
	}
	return c.items[i], true
}

// MustLookup is Lookup for callers that already validated the name.
func (c *Catalog) MustLookup(name string) Item {
	it, ok := c.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("catalog: %q: %v", name, ErrItemNotFound))
	}
	return it
}

// Items returns a copy of all items in catalog order.
func (c *Catalog) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Names returns item names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.items))
	for i, it := range c.items {
		names[i] = it.Name
	}
	return names
}

func (c *Catalog) Len() int {
	return len(c.items)
}

// Random picks an item uniformly at random.
func (c *Catalog) Random() Item {
	return c.items[rand.IntN(len(c.items))]
}
