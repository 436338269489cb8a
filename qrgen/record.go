package qrgen

// LandRecord is the land registry document carried in the generated QR codes
type LandRecord struct {
	Government         string             `json:"government"`
	DocumentNo         string             `json:"document_no"`
	DateOfIssue        string             `json:"date_of_issue"`
	Owner              Owner              `json:"owner"`
	PropertyDetails    PropertyDetails    `json:"property_details"`
	Encumbrances       string             `json:"encumbrances"`
	TransactionHistory TransactionHistory `json:"transaction_history"`
}

// Owner is the current holder of the land
type Owner struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// PropertyDetails describes the parcel
type PropertyDetails struct {
	Location   string `json:"location"`
	LandArea   string `json:"land_area"`
	SurveyNo   string `json:"survey_no"`
	TypeOfLand string `json:"type_of_land"`
}

// TransactionHistory records the last transfer
type TransactionHistory struct {
	PreviousOwner  string `json:"previous_owner"`
	DateOfTransfer string `json:"date_of_transfer"`
}

// DefaultLandRecord is the sample record encoded by the qrgen command
func DefaultLandRecord() LandRecord {
	return LandRecord{
		Government:  "MAHARASTRA GOVERNMENT",
		DocumentNo:  "12345XYZ",
		DateOfIssue: "15-Feb-2025",
		Owner: Owner{
			Name:    "Sam",
			Address: "123 Main Street, City, Country",
		},
		PropertyDetails: PropertyDetails{
			Location:   "Mira bhyandar",
			LandArea:   "500 sq. meters",
			SurveyNo:   "789XYZ",
			TypeOfLand: "Residential",
		},
		Encumbrances: "No outstanding loans or legal claims.",
		TransactionHistory: TransactionHistory{
			PreviousOwner:  "Jane Smith",
			DateOfTransfer: "10-Jan-2024",
		},
	}
}
