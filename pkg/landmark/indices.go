package landmark

// Landmark indices follow the MediaPipe face-mesh convention.
// See: https://developers.google.com/mediapipe/solutions/vision/face_landmarker
const (
	// MeshPointCount is the size of the standard face mesh.
	MeshPointCount = 468

	// RefinedMeshPointCount is the mesh size when iris landmarks are present.
	RefinedMeshPointCount = 478

	NoseTip  = 1
	Forehead = 10
	Chin     = 152

	// Eye corners. "Left"/"Right" are from the viewer's perspective, the
	// convention used by the mesh topology itself.
	LeftEyeOuter  = 33
	LeftEyeInner  = 133
	RightEyeInner = 362
	RightEyeOuter = 263

	// Upper and lower lid midpoints, used for eye-aspect-ratio.
	LeftEyeTop     = 159
	LeftEyeBottom  = 145
	RightEyeTop    = 386
	RightEyeBottom = 374

	// Iris centers, present only in refined meshes.
	LeftIrisCenter  = 468
	RightIrisCenter = 473
)

// LeftEyeRing and RightEyeRing are the 6-point eye outlines used for the
// eye-aspect-ratio: [outer corner, upper-outer lid, upper-inner lid,
// inner corner, lower-inner lid, lower-outer lid].
var (
	LeftEyeRing  = [6]int{33, 160, 158, 133, 153, 144}
	RightEyeRing = [6]int{263, 387, 385, 362, 380, 373}
)

// Anchors is the fixed landmark set used to validate a detection before any
// metric is derived from it. A frame qualifies as a face only when at least
// 80% of these indices are present and inside normalized bounds.
var Anchors = []int{
	NoseTip,
	Forehead,
	Chin,
	LeftEyeOuter, LeftEyeInner,
	RightEyeInner, RightEyeOuter,
	LeftEyeTop, LeftEyeBottom,
	RightEyeTop, RightEyeBottom,
	LeftIrisCenter, RightIrisCenter,
}

// AnchorVisibility returns the fraction of [Anchors] that are present in pts
// and within normalized [0,1] bounds on both axes. Point sets shorter than
// the standard mesh topology score zero; they cannot be a face mesh no matter
// which indices happen to be populated.
func AnchorVisibility(pts []Point) float64 {
	if len(pts) < MeshPointCount {
		return 0
	}
	visible := 0
	for _, idx := range Anchors {
		if idx >= len(pts) {
			continue
		}
		p := pts[idx]
		if p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1 {
			visible++
		}
	}
	return float64(visible) / float64(len(Anchors))
}
