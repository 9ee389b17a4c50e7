package directory

// StateCodes are the 51 jurisdictions walked by AllHospitals, in order.
var StateCodes = []string{
	"AL", "AK", "AZ", "AR", "CA", "CO", "CT", "DE", "DC", "FL",
	"GA", "HI", "ID", "IL", "IN", "IA", "KS", "KY", "LA", "ME",
	"MD", "MA", "MI", "MN", "MS", "MO", "MT", "NE", "NV", "NH",
	"NJ", "NM", "NY", "NC", "ND", "OH", "OK", "OR", "PA", "RI",
	"SC", "SD", "TN", "TX", "UT", "VT", "VA", "WA", "WV", "WI",
	"WY",
}

// ValidState reports whether code is one of StateCodes.
func ValidState(code string) bool {
	for _, s := range StateCodes {
		if s == code {
			return true
		}
	}
	return false
}
