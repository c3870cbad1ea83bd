package shared

// Scope is the company and fiscal year a core operation runs against. It is
// passed explicitly through every call instead of living in a global.
type Scope struct {
	CompanyID    int64
	FiscalYearID int64
}

// Validate ensures the scope identifies a company.
func (s Scope) Validate() error {
	if s.CompanyID <= 0 {
		return Validationf("company scope required")
	}
	return nil
}
