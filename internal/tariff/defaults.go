package tariff

import "parkinglot/parking-server/internal/model"

// Defaults is the tariff set installed on first start. Prices are whole
// currency units.
func Defaults() model.TariffTable {
	return model.TariffTable{
		"car":       model.HalfHour(3000),
		"bike":      model.HalfHour(2000),
		"car-hour":  model.PerMinute(100),
		"bike-hour": model.PerMinute(66),

		"car-12h":    model.Flat(30000, "12 hours"),
		"bike-12h":   model.Flat(15000, "12 hours"),
		"car-month":  model.Flat(250000, "monthly"),
		"bike-month": model.Flat(150000, "monthly"),

		"other-small-month":  model.Band(120000, 100000, 150000, "monthly - small"),
		"other-medium-month": model.Band(180000, 151000, 200000, "monthly - medium"),
		"other-large-month":  model.Band(250000, 201000, 300000, "monthly - large"),
		"other-small-night":  model.Band(12000, 10000, 15000, "nightly - small"),
		"other-medium-night": model.Band(18000, 15100, 20000, "nightly - medium"),
		"other-large-night":  model.Band(25000, 20100, 30000, "nightly - large"),
	}
}
