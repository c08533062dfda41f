package pipeline

import (
	"github.com/sells-group/facility-enrich/internal/dataset"
)

// Plus-code sheet layout.
const (
	SheetName          = "POC_DATA_DISPLAY"
	SheetPlusCodeCol   = "GOOGLE LOC"
	SheetCompanyCol    = "LEGAL ENTITY NAME"
	SheetEntityTypeCol = "P1L_Usage"
	SheetTagDefault    = "Not Available"
	SheetLabel         = "poc_sheet"
)

// SheetSource describes a plus-code spreadsheet: every row carries a
// "<short code> <area text>" cell, must match an outline, takes its address
// from the locality lookup and copies remaining columns as tags.
func SheetSource(path, sheet, defaultCompany string) dataset.Source {
	if sheet == "" {
		sheet = SheetName
	}
	defaults := map[string]string{dataset.ColEntityType: "Branch"}
	if defaultCompany != "" {
		defaults[dataset.ColCompanyName] = defaultCompany
	}
	return dataset.Source{
		Name:   SheetLabel,
		Label:  SheetLabel,
		Path:   path,
		Format: dataset.FormatXLSX,
		Sheet:  sheet,
		Rename: map[string]string{
			SheetCompanyCol:    dataset.ColCompanyName,
			SheetEntityTypeCol: dataset.ColEntityType,
		},
		PlusCodeColumn:  SheetPlusCodeCol,
		TagAll:          true,
		TagDefault:      SheetTagDefault,
		Defaults:        defaults,
		Address:         dataset.AddressRegion,
		RequireBoundary: true,
	}
}
