package recurrence

// Policy holds the product decisions the engine needs but does not own.
type Policy struct {
	// DefaultHorizon is how many obligations an open-ended series generates
	// (anchor included) when Horizons has no entry for the frequency.
	DefaultHorizon int
	Horizons       map[Frequency]int

	// DueSoonWindow is the number of days after today still shown as due_soon.
	DueSoonWindow int

	// MaxPreviewItems caps PreviewDates.
	MaxPreviewItems int

	// BatchSize is how many members are written per CreateBatch call.
	BatchSize int

	DefaultCurrency string
}

func DefaultPolicy() Policy {
	return Policy{
		DefaultHorizon:  12,
		Horizons:        map[Frequency]int{},
		DueSoonWindow:   DefaultDueSoonWindow,
		MaxPreviewItems: MaxInstallments,
		BatchSize:       24,
		DefaultCurrency: "BRL",
	}
}

// Horizon returns the generation horizon for an open-ended frequency.
func (p Policy) Horizon(f Frequency) int {
	if h, ok := p.Horizons[f]; ok && h > 0 {
		return h
	}
	if p.DefaultHorizon > 0 {
		return p.DefaultHorizon
	}
	return 12
}

func (p Policy) batchSize() int {
	if p.BatchSize > 0 {
		return p.BatchSize
	}
	return 24
}

func (p Policy) previewCap() int {
	if p.MaxPreviewItems > 0 {
		return p.MaxPreviewItems
	}
	return MaxInstallments
}
