package upstream

import "encoding/json"

// envelope is the common response wrapper: rCode "0" on success, anything
// else is a business-level failure.
type envelope struct {
	RCode    string          `json:"rCode"`
	RMessage string          `json:"rMessage"`
	Data     json.RawMessage `json:"data"`
}

// Product is one listing as the upstream reports it.
type Product struct {
	ProductID      int64  `json:"productId"`
	ProductName    string `json:"productName"`
	ProductPrice   int64  `json:"productPrice"`
	ProductImage   string `json:"productImage"`
	ProductURL     string `json:"productUrl"`
	CategoryName   string `json:"categoryName"`
	IsRocket       bool   `json:"isRocket"`
	IsFreeShipping bool   `json:"isFreeShipping"`
	Rank           int    `json:"rank"`
}

// searchData is the search endpoint's data shape; list endpoints return a
// bare product array instead.
type searchData struct {
	ProductData []Product `json:"productData"`
}

// Deeplink is a monetized outbound link generated by the upstream.
type Deeplink struct {
	OriginalURL string `json:"originalUrl"`
	ShortenURL  string `json:"shortenUrl"`
	LandingURL  string `json:"landingUrl"`
}

type deeplinkRequest struct {
	CoupangURLs []string `json:"coupangUrls"`
}

// ClickRow is one row of the partner click report.
type ClickRow struct {
	Date         string `json:"date"`
	TrackingCode string `json:"trackingCode"`
	SubID        string `json:"subId"`
	Clicks       int    `json:"click"`
}
