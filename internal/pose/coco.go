package pose

// COCO-17 keypoint names in model output order.
var COCOKeypoints = []string{
	"nose",
	"left_eye", "right_eye",
	"left_ear", "right_ear",
	"left_shoulder", "right_shoulder",
	"left_elbow", "right_elbow",
	"left_wrist", "right_wrist",
	"left_hip", "right_hip",
	"left_knee", "right_knee",
	"left_ankle", "right_ankle",
}

// Bone connects two keypoints by name.
type Bone struct {
	From, To string
}

// skeletonPairs lists limbs as 1-based COCO indices, (16,14) is left ankle
// to left knee.
var skeletonPairs = [...][2]int{
	{16, 14}, {14, 12}, {17, 15}, {15, 13}, {12, 13},
	{6, 12}, {7, 13}, {6, 7}, {6, 8}, {7, 9},
	{8, 10}, {9, 11}, {2, 3}, {1, 2}, {1, 3},
	{2, 4}, {3, 5}, {4, 6}, {5, 7},
}

// Skeleton returns the limbs drawn between COCO keypoints.
func Skeleton() []Bone {
	bones := make([]Bone, len(skeletonPairs))
	for i, p := range skeletonPairs {
		bones[i] = Bone{From: COCOKeypoints[p[0]-1], To: COCOKeypoints[p[1]-1]}
	}
	return bones
}
