package normalize

// SalesRecord is one canonical sales row, ready for dimension resolution
// and fact loading. Period carries no dot separators and MaterialNumber is
// in standardized 8-digit form.
type SalesRecord struct {
	Period         string
	MaterialNumber string
	GrossSales     float64
	NetSales       float64
	RegionCode     string // "" when the source code mapped to nothing
	Year           int
}

// ForecastRecord is one canonical forecast row. Its dimension period is
// synthesized from Year at load time.
type ForecastRecord struct {
	MaterialNumber string
	Year           int
	ForecastValue  float64
}
