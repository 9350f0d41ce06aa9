package domain

// PaymentGateway mirrors one gateway entry reported by the plugin.
type PaymentGateway struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	AllowedCountries []string `json:"allowed_countries"`
}

// GatewayCountryUpdate builds the plugin's update payload: gateway id to allowed
// countries, where an empty list means every country.
func GatewayCountryUpdate(gateways []PaymentGateway) map[string][]string {
	update := make(map[string][]string, len(gateways))
	for _, gw := range gateways {
		if gw.ID == "" {
			continue
		}
		if len(gw.AllowedCountries) == 0 {
			update[gw.ID] = []string{"all"}
			continue
		}
		update[gw.ID] = append([]string(nil), gw.AllowedCountries...)
	}
	return update
}
