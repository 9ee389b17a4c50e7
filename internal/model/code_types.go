package model

import "strings"

// CodeType represents one of the CMS-defined billing code types.
type CodeType struct {
	Name    string   // canonical name, e.g. "CPT"
	Aliases []string // lowercase spellings seen in publisher files
}

// AllCodeTypes lists the supported CMS-defined code types in canonical order.
var AllCodeTypes = []CodeType{
	{Name: "CPT", Aliases: []string{"cpt", "cpt4", "cpt-4"}},
	{Name: "HCPCS", Aliases: []string{"hcpcs", "hcpc"}},
	{Name: "MS-DRG", Aliases: []string{"ms-drg", "msdrg", "ms drg"}},
	{Name: "APR-DRG", Aliases: []string{"apr-drg", "aprdrg"}},
	{Name: "DRG", Aliases: []string{"drg"}},
	{Name: "NDC", Aliases: []string{"ndc"}},
	{Name: "RC", Aliases: []string{"rc", "rev", "revenue code", "rev code"}},
	{Name: "CDM", Aliases: []string{"cdm", "chargemaster"}},
	{Name: "CDT", Aliases: []string{"cdt"}},
	{Name: "ICD", Aliases: []string{"icd", "icd-10", "icd10"}},
	{Name: "APC", Aliases: []string{"apc"}},
	{Name: "EAPG", Aliases: []string{"eapg"}},
	{Name: "HIPPS", Aliases: []string{"hipps"}},
	{Name: "LOCAL", Aliases: []string{"local", "internal"}},
}

// CodeTypeByName returns the CodeType whose name or alias matches, or ok=false.
func CodeTypeByName(name string) (CodeType, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return CodeType{}, false
	}
	for _, ct := range AllCodeTypes {
		if strings.ToLower(ct.Name) == n {
			return ct, true
		}
		for _, a := range ct.Aliases {
			if a == n {
				return ct, true
			}
		}
	}
	return CodeType{}, false
}
