package chat

import (
	"regexp"
	"strconv"
	"strings"
)

// Category buckets listings resolve into. "diger" is the catch-all.
const (
	CategoryElectronics = "elektronik"
	CategoryFashion     = "moda"
	CategoryHomeGarden  = "ev-bahce"
	CategoryVehicles    = "arac"
	CategoryRealEstate  = "emlak"
	CategoryServices    = "hizmet"
	CategoryOther       = "diger"
)

// Categories is the closed set of valid category values.
var Categories = []string{
	CategoryElectronics, CategoryFashion, CategoryHomeGarden,
	CategoryVehicles, CategoryRealEstate, CategoryServices, CategoryOther,
}

// categorySynonyms maps free-text product/category words to buckets.
var categorySynonyms = map[string]string{
	"elektronik": CategoryElectronics, "electronics": CategoryElectronics,
	"telefon": CategoryElectronics, "iphone": CategoryElectronics,
	"laptop": CategoryElectronics, "bilgisayar": CategoryElectronics,
	"tablet": CategoryElectronics, "televizyon": CategoryElectronics,
	"kulaklık": CategoryElectronics, "kulaklik": CategoryElectronics,

	"moda": CategoryFashion, "giyim": CategoryFashion, "fashion": CategoryFashion,
	"ayakkabı": CategoryFashion, "ayakkabi": CategoryFashion, "çanta": CategoryFashion,

	"ev": CategoryHomeGarden, "bahçe": CategoryHomeGarden, "bahce": CategoryHomeGarden,
	"mobilya": CategoryHomeGarden, "koltuk": CategoryHomeGarden,

	"araba": CategoryVehicles, "otomobil": CategoryVehicles, "araç": CategoryVehicles,
	"arac": CategoryVehicles, "motosiklet": CategoryVehicles, "vehicle": CategoryVehicles,

	"emlak": CategoryRealEstate, "daire": CategoryRealEstate, "konut": CategoryRealEstate,
	"kiralık": CategoryRealEstate, "kiralik": CategoryRealEstate,

	"hizmet": CategoryServices, "servis": CategoryServices, "tamir": CategoryServices,
}

// NormalizeCategory maps a free-text category to a bucket. Unrecognized
// values fall back to "diger"; empty input stays empty.
func NormalizeCategory(raw string) string {
	c := strings.ToLower(strings.TrimSpace(raw))
	if c == "" {
		return ""
	}
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	if bucket, ok := categorySynonyms[c]; ok {
		return bucket
	}
	for word, bucket := range categorySynonyms {
		if strings.Contains(c, word) {
			return bucket
		}
	}
	return CategoryOther
}

var (
	currencyTokens = regexp.MustCompile(`(?i)(₺|\$|€|tl\b|try\b|lira\b)`)
	thousandsForm  = regexp.MustCompile(`^\d{1,3}([.,]\d{3})+$`)
	decimalForm    = regexp.MustCompile(`^(\d+)[.,](\d{1,2})$`)
	digitRun       = regexp.MustCompile(`\d[\d.,]*`)
)

// NormalizePrice converts a free-text price to the canonical integer unit
// currency amount. "25.000 TL", "25000", "25 bin" all yield 25000. Returns
// false for anything it cannot parse; the caller treats that as a no-op.
func NormalizePrice(raw string) (int64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, false
	}
	s = currencyTokens.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	multiplier := int64(1)
	if trimmed, ok := strings.CutSuffix(s, "bin"); ok {
		multiplier = 1000
		s = strings.TrimSpace(trimmed)
	} else if trimmed, ok := strings.CutSuffix(s, "k"); ok {
		multiplier = 1000
		s = strings.TrimSpace(trimmed)
	}
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, false
	}

	if thousandsForm.MatchString(s) {
		s = strings.NewReplacer(".", "", ",", "").Replace(s)
	} else if m := decimalForm.FindStringSubmatch(s); m != nil {
		// Drop the fractional part; listing prices are whole units.
		s = m[1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n * multiplier, true
}

// firstAmount extracts the first plausible money amount from a sentence.
func firstAmount(text string) (int64, bool) {
	for _, match := range digitRun.FindAllString(text, -1) {
		if n, ok := NormalizePrice(match); ok && n > 0 {
			return n, true
		}
	}
	return 0, false
}
