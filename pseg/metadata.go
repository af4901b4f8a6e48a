package pseg

import "fmt"

// VoxelSize annotates a volume with its physical voxel spacing. It comes
// from the I/O collaborator's file metadata and is carried opaquely in
// display metadata so downstream layers keep the original spacing.
type VoxelSize struct {
	Size [3]float64 `json:"size"`
	Unit string     `json:"unit"`
}

// Validate returns an error unless all three spacings are positive.
func (vs VoxelSize) Validate() error {
	for d, s := range vs.Size {
		if s <= 0 {
			return fmt.Errorf("voxel size along axis %d must be positive, got %g", d, s)
		}
	}
	return nil
}

// IsIsotropic reports whether all axes share the same spacing.
func (vs VoxelSize) IsIsotropic() bool {
	return vs.Size[0] == vs.Size[1] && vs.Size[1] == vs.Size[2]
}

// Metadata keys preserved when deriving a new layer from an input layer.
const (
	MetaOriginalVoxelSize = "original_voxel_size"
	MetaVoxelSizeUnit     = "voxel_size_unit"
	MetaRootName          = "root_name"
)

// SelectLayerMetadata keeps only the metadata entries that should propagate
// from an input layer to a derived output layer.
func SelectLayerMetadata(metadata map[string]interface{}) map[string]interface{} {
	selected := make(map[string]interface{})
	for _, key := range []string{MetaOriginalVoxelSize, MetaVoxelSizeUnit, MetaRootName} {
		if v, found := metadata[key]; found {
			selected[key] = v
		}
	}
	return selected
}
