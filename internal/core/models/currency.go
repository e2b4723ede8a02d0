package models

type Currency struct {
	Code       string `json:"code" db:"code"`               // ISO 4217, e.g. "EUR"
	Name       string `json:"name" db:"name"`
	MinorUnits int32  `json:"minor_units" db:"minor_units"` // fractional digits the platform keeps
	IsActive   bool   `json:"is_active" db:"is_active"`
}

// DefaultCurrencies are the currencies seeded by the initial migration.
var DefaultCurrencies = []Currency{
	{Code: "EUR", Name: "Euro", MinorUnits: 2, IsActive: true},
	{Code: "XOF", Name: "West African CFA Franc", MinorUnits: 2, IsActive: true},
	{Code: "XAF", Name: "Central African CFA Franc", MinorUnits: 2, IsActive: true},
	{Code: "GHS", Name: "Ghanaian Cedi", MinorUnits: 2, IsActive: true},
	{Code: "NGN", Name: "Nigerian Naira", MinorUnits: 2, IsActive: true},
	{Code: "KES", Name: "Kenyan Shilling", MinorUnits: 2, IsActive: true},
	{Code: "TZS", Name: "Tanzanian Shilling", MinorUnits: 2, IsActive: true},
	{Code: "UGX", Name: "Ugandan Shilling", MinorUnits: 2, IsActive: true},
	{Code: "ZAR", Name: "South African Rand", MinorUnits: 2, IsActive: true},
}
