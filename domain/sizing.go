package domain

// SizingResult es el resultado del motor de sizing.
//
// Degraded indica que el cálculo proporcional no pudo usar equities
// (equity fuente cero o ausente) y cayó al volumen crudo de la fuente;
// el caller debe loguear un warning de sizing degradado, no fallar el
// trade.
type SizingResult struct {
	Volume   float64
	Degraded bool
}

// ComputeVolume calcula el volumen destino para un trade aceptado.
//
// Modos:
//   - FIXED: retorna FixedLotSize incondicionalmente. Desacopla el
//     riesgo del destino del tamaño de la posición fuente.
//   - PROPORTIONAL: sourceVolume × (destEquity / sourceEquity),
//     redondeado al lot step del broker destino y clamped a [min, max].
//
// Un ValidationError de ClampLotSize no es fatal: el volumen ya viene
// ajustado a la spec. Solo errores de spec inválida abortan.
func ComputeVolume(rules *RuleSet, sourceVolume, sourceEquity, destEquity float64, spec *VolumeSpec) (*SizingResult, error) {
	if rules == nil {
		return nil, NewError(ErrRuleSetMissing, "rule set is nil")
	}
	if spec == nil {
		spec = DefaultVolumeSpec()
	}

	switch rules.SizingMode {
	case SizingFixed:
		if rules.FixedLotSize <= 0 {
			return nil, NewValidationError("fixed_lot_size", rules.FixedLotSize, "fixed_lot_size must be > 0 in FIXED mode")
		}
		volume, err := ClampLotSize(spec, rules.FixedLotSize)
		if err != nil && volume <= 0 {
			return nil, err
		}
		return &SizingResult{Volume: volume}, nil

	case SizingProportional:
		if sourceEquity <= 0 || destEquity <= 0 {
			// Equity ausente: degradar al volumen crudo en vez de fallar
			volume, err := ClampLotSize(spec, sourceVolume)
			if err != nil && volume <= 0 {
				return nil, err
			}
			return &SizingResult{Volume: volume, Degraded: true}, nil
		}

		scaled := sourceVolume * (destEquity / sourceEquity)
		volume, err := ClampLotSize(spec, scaled)
		if err != nil && volume <= 0 {
			return nil, err
		}
		return &SizingResult{Volume: volume}, nil

	default:
		return nil, NewError(ErrRuleSetMissing, "unknown sizing mode "+string(rules.SizingMode))
	}
}
