package model

// TargetModel is a model identifier advertised by the upstream service.
type TargetModel struct {
	ID      string
	OwnedBy string
}
