package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"microtrax/internal/models"
)

// ItemDef is one entry of Steam's itemdef.json.
type ItemDef struct {
	ItemDefID   int64            `json:"itemdefid"`
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	Description string           `json:"description"`
	Price       map[string]int64 `json:"price,omitempty"`
	Marketable  bool             `json:"marketable"`
	Tradable    bool             `json:"tradable"`
	StoreBundle bool             `json:"store_bundle"`
	StoreTags   string           `json:"store_tags,omitempty"`
}

// ItemDefFile is the document uploaded to the Steamworks partner site.
type ItemDefFile struct {
	AppID   int64     `json:"appid"`
	Items   []ItemDef `json:"items"`
	Version string    `json:"version"`
}

// BuildItemDefs keeps the active products of appID whose ids are numeric
// Steam item definition ids. Skipped ids are returned for logging.
func BuildItemDefs(appID string, products []models.Product, now time.Time) (ItemDefFile, []string, error) {
	app, err := strconv.ParseInt(strings.TrimSpace(appID), 10, 64)
	if err != nil || app <= 0 {
		return ItemDefFile{}, nil, fmt.Errorf("%w: app_id must be numeric", models.ErrClientInput)
	}

	file := ItemDefFile{AppID: app, Items: []ItemDef{}, Version: now.UTC().Format("20060102")}
	var skipped []string
	for _, p := range products {
		if p.AppID != appID || !p.Active {
			continue
		}
		id, err := strconv.ParseInt(p.ID, 10, 64)
		if err != nil || id <= 0 {
			skipped = append(skipped, p.ID)
			continue
		}
		def := ItemDef{
			ItemDefID:   id,
			Name:        p.Name,
			Type:        "item",
			Description: p.Description,
			StoreTags:   p.Category,
		}
		if p.Currency != "" {
			def.Price = map[string]int64{strings.ToUpper(p.Currency): p.Price}
		}
		file.Items = append(file.Items, def)
	}
	slices.SortFunc(file.Items, func(a, b ItemDef) int {
		switch {
		case a.ItemDefID < b.ItemDefID:
			return -1
		case a.ItemDefID > b.ItemDefID:
			return 1
		}
		return 0
	})
	return file, skipped, nil
}

// Marshal renders the file the way Steam's uploader expects it: indented JSON.
func (f ItemDefFile) Marshal() ([]byte, error) {
	if f.AppID == 0 {
		return nil, errors.New("itemdef: empty app id")
	}
	return json.MarshalIndent(f, "", "  ")
}

// ObjectKey is the S3 key an app's export is stored under.
func ObjectKey(prefix string, appID int64) string {
	prefix = strings.Trim(prefix, "/")
	name := fmt.Sprintf("itemdef_%d.json", appID)
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
