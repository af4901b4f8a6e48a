package pseg

import "testing"

func TestVoxelSizeValidate(t *testing.T) {
	good := VoxelSize{Size: [3]float64{0.25, 0.1, 0.1}, Unit: "um"}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid voxel size rejected: %v", err)
	}
	for _, bad := range []VoxelSize{
		{Size: [3]float64{0, 0.1, 0.1}},
		{Size: [3]float64{0.1, -1, 0.1}},
	} {
		if err := bad.Validate(); err == nil {
			t.Errorf("voxel size %v accepted", bad.Size)
		}
	}
}

func TestVoxelSizeIsIsotropic(t *testing.T) {
	if !(VoxelSize{Size: [3]float64{0.1, 0.1, 0.1}}).IsIsotropic() {
		t.Errorf("uniform spacing not isotropic")
	}
	if (VoxelSize{Size: [3]float64{0.25, 0.1, 0.1}}).IsIsotropic() {
		t.Errorf("anisotropic spacing reported isotropic")
	}
}

func TestSelectLayerMetadata(t *testing.T) {
	in := map[string]interface{}{
		MetaOriginalVoxelSize: [3]float64{0.25, 0.1, 0.1},
		MetaVoxelSizeUnit:     "um",
		"viewer_state":        "should not propagate",
	}
	out := SelectLayerMetadata(in)
	if len(out) != 2 {
		t.Fatalf("selected %d entries, want 2: %v", len(out), out)
	}
	if _, found := out["viewer_state"]; found {
		t.Fatalf("transient metadata propagated")
	}
}
