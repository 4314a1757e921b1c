package projection

import (
	"github.com/elasticmodels/elastic/internal/schema"
)

func aquarium() *schema.Schema {
	s := &schema.Schema{ID: 1, Name: "aquarium"}
	s.Normalize()
	s.Fields = []*schema.FieldSpec{
		{Name: "volume", Type: schema.TypeNumber},
		{Name: "temperature", Type: schema.TypeNumber, Blank: true},
		{Name: "water", Type: schema.TypeEnum, Choices: []string{"saltwater", "freshwater"}},
		{Name: "origin", Type: schema.TypeText},
		{Name: "next_water_change", Label: "Next water change", Type: schema.TypeDate},
	}
	for _, f := range s.Fields {
		f.Normalize()
	}
	return s
}

func car() *schema.Schema {
	s := &schema.Schema{ID: 2, Name: "car"}
	s.Normalize()
	s.Fields = []*schema.FieldSpec{
		{Name: "make", Type: schema.TypeEnum, Choices: []string{"BMW", "Fiat", "Volkswagen"}},
		{Name: "mileage", Type: schema.TypeNumber},
		{Name: "features", Type: schema.TypeText, Blank: true},
		{Name: "first_registration_date", Label: "First registration date", Type: schema.TypeDate},
	}
	for _, f := range s.Fields {
		f.Normalize()
	}
	return s
}

func validAquarium() map[string]any {
	return map[string]any{
		"volume":            float64(200),
		"temperature":       float64(24),
		"water":             "saltwater",
		"origin":            "Lake Malawi",
		"next_water_change": "2018-05-01",
	}
}
