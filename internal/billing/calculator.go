package billing

import (
	"math"
	"strconv"

	"gharsathi/internal/models"
)

// Policy тариф. Сейчас обе ставки по 200, но меняются независимо
type Policy struct {
	MinimumCharge float64 `yaml:"minimum_charge"`
	HourlyRate    float64 `yaml:"hourly_rate"`
}

func DefaultPolicy() Policy {
	return Policy{MinimumCharge: models.MinimumCharge, HourlyRate: models.HourlyRate}
}

// Calculator чистый: не ходит в хранилище и не читает часы
type Calculator struct {
	policy Policy
}

func NewCalculator(policy Policy) *Calculator {
	if policy.MinimumCharge <= 0 {
		policy.MinimumCharge = models.MinimumCharge
	}
	if policy.HourlyRate <= 0 {
		policy.HourlyRate = models.HourlyRate
	}
	return &Calculator{policy: policy}
}

func (c *Calculator) Policy() Policy {
	return c.policy
}

// CalculateCharge первый час по минимальной ставке, каждый начатый час сверх него по часовой
func (c *Calculator) CalculateCharge(duration float64) (float64, error) {
	if duration < 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return 0, models.NewValidationError("duration", "must be a non-negative number")
	}
	if duration <= 1 {
		return RoundMoney(c.policy.MinimumCharge), nil
	}

	// Часы считаем с точностью до сотой, как и фактическую длительность работ:
	// 1.004ч это ещё первый час, 1.01ч уже второй
	extra := math.Ceil(roundTo(duration-1, 2))
	return RoundMoney(c.policy.MinimumCharge + extra*c.policy.HourlyRate), nil
}

// Total = charge + materialsCost + additionalCharge; maintenancePrice, если задан, перекрывает сумму
func (c *Calculator) Total(b *models.Booking) float64 {
	total := b.Charge + b.MaterialsCost + b.AdditionalCharge
	if b.MaintenanceDetails != nil && b.MaintenanceDetails.MaintenancePrice != nil {
		total = *b.MaintenanceDetails.MaintenancePrice
	}
	return RoundMoney(total)
}

// Recalculate пересчитывает TotalCharge на месте. С refreshBase сначала
// пересчитывается базовый charge по фактической длительности. Заблокированные не трогаем
func (c *Calculator) Recalculate(b *models.Booking, refreshBase bool) error {
	if b.ChargeLocked {
		return nil
	}
	if err := checkNonNegative(b); err != nil {
		return err
	}
	if refreshBase {
		charge, err := c.CalculateCharge(b.EffectiveDuration())
		if err != nil {
			return err
		}
		b.Charge = charge
	}
	b.TotalCharge = c.Total(b)
	return nil
}

// CheckCharge отклоняет базовую ставку ниже минимальной по тарифу
func (c *Calculator) CheckCharge(charge float64) error {
	if Paisa(charge) < Paisa(c.policy.MinimumCharge) {
		return models.NewValidationError("charge", "must be at least "+strconv.FormatFloat(c.policy.MinimumCharge, 'f', -1, 64))
	}
	return nil
}

// SumMaterials сумма по списку материалов
func SumMaterials(materials []models.Material) float64 {
	var sum float64
	for _, m := range materials {
		sum += m.Cost
	}
	return RoundMoney(sum)
}

func checkNonNegative(b *models.Booking) error {
	switch {
	case b.Charge < 0:
		return models.NewValidationError("charge", "must not be negative")
	case b.MaterialsCost < 0:
		return models.NewValidationError("materialsCost", "must not be negative")
	case b.AdditionalCharge < 0:
		return models.NewValidationError("additionalCharge", "must not be negative")
	}
	if md := b.MaintenanceDetails; md != nil && md.MaintenancePrice != nil && *md.MaintenancePrice < 0 {
		return models.NewValidationError("maintenanceDetails.maintenancePrice", "must not be negative")
	}
	return nil
}

// RoundMoney округляет до пайсы
func RoundMoney(v float64) float64 {
	return roundTo(v, 2)
}

// Paisa переводит сумму в целые пайсы для точного сравнения
func Paisa(v float64) int64 {
	return int64(math.Round(v * 100))
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
