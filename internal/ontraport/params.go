package ontraport

import "encoding/json"

// Parameter structs for the MCP tool handlers. Field names line up with the
// checkout payloads the hosting system produces.

// CustomerParams carries billing details for tools that resolve a Contact.
type CustomerParams struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Address1  string `json:"address1,omitempty"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Postcode  string `json:"postcode,omitempty"`
	Country   string `json:"country,omitempty"`
}

// Customer converts tool parameters to the workflow value object.
func (p CustomerParams) Customer() Customer {
	return Customer{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
		Phone:     p.Phone,
		Address1:  p.Address1,
		Address2:  p.Address2,
		City:      p.City,
		State:     p.State,
		Postcode:  p.Postcode,
		Country:   p.Country,
	}
}

// LogTransactionParams for the ontraport_log_transaction tool.
type LogTransactionParams struct {
	CustomerParams
	Product  string  `json:"product"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Total    float64 `json:"total,omitempty"`
}

// TagContactParams for the ontraport_tag_contact tool.
type TagContactParams struct {
	CustomerParams
	Tag string `json:"tag"`
}

// FindParams for the ontraport_find_* lookup tools.
type FindParams struct {
	Key string `json:"key"`
}

// parseParams converts the generic tool argument map into a typed struct.
func parseParams[T any](args any) (*T, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	var params T
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, err
	}
	return &params, nil
}
