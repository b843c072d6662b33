package domain

import (
	"math"
)

const floatTolerance = 1e-9

// VolumeSpec describe los límites de volumen del broker destino.
type VolumeSpec struct {
	MinLot  float64 `json:"min_lot"`
	MaxLot  float64 `json:"max_lot"`
	LotStep float64 `json:"lot_step"`
}

// DefaultVolumeSpec retorna la spec típica de un broker retail
// (step 0.01, sin información específica del símbolo).
func DefaultVolumeSpec() *VolumeSpec {
	return &VolumeSpec{
		MinLot:  0.01,
		MaxLot:  100.0,
		LotStep: 0.01,
	}
}

// ClampLotSize valida un tamaño de lote contra una VolumeSpec y retorna el valor clamped.
//
// Si el lot size ya es válido se retorna sin modificar y error nil. Cuando el valor
// se clampa por mínimos/máximos o por step desalineado, retorna el valor ajustado
// junto a un ValidationError que describe la causa. Si la especificación es
// inválida se retorna un error fatal (ErrSpecMissing).
func ClampLotSize(spec *VolumeSpec, lot float64) (float64, error) {
	if spec == nil {
		return 0, NewError(ErrSpecMissing, "volume spec is nil")
	}

	if spec.MinLot <= 0 {
		return 0, NewValidationError("min_lot", spec.MinLot, "min_lot must be > 0")
	}
	if spec.MaxLot <= 0 {
		return 0, NewValidationError("max_lot", spec.MaxLot, "max_lot must be > 0")
	}
	if spec.LotStep <= 0 {
		return 0, NewValidationError("lot_step", spec.LotStep, "lot_step must be > 0")
	}

	min := spec.MinLot
	max := spec.MaxLot
	step := spec.LotStep

	if min > max {
		return 0, NewValidationError("min_lot", min, "min_lot cannot exceed max_lot")
	}

	original := lot
	if lot <= 0 {
		lot = min
	}

	// Clamp por límites
	var validationErr error
	if lot < min {
		validationErr = NewValidationError("lot_size", original, "lot size below minimum")
		lot = min
	}
	if lot > max {
		validationErr = NewValidationError("lot_size", original, "lot size above maximum")
		lot = max
	}

	// Ajustar al múltiplo más cercano del step
	normalized := normalizeToStep(lot, step)
	if normalized < min-floatTolerance {
		normalized = min
	}
	if normalized > max+floatTolerance {
		normalized = max
	}

	if !almostEqual(normalized, lot) && validationErr == nil {
		validationErr = NewValidationError("lot_size", original, "lot size not aligned to lot_step")
	}

	// Si el valor original era válido no retornamos error
	if validationErr == nil && !almostEqual(original, normalized) {
		validationErr = NewValidationError("lot_size", original, "lot size clamped to spec")
	}

	return normalized, validationErr
}

func normalizeToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	quotient := math.Round(value / step)
	return quotient * step
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= floatTolerance
}
