package vision

import "sort"

// DefaultIoUThreshold is the overlap above which a lower-scored box is suppressed.
const DefaultIoUThreshold = 0.35

// NMS performs greedy non-maximum suppression and returns the kept indices,
// highest score first. Equal scores keep their original index order.
func NMS(boxes []XYXY, scores []float64, iouThres float64) []int {
	n := len(boxes)
	if n == 0 || len(scores) != n {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	keep := make([]int, 0, n)
	for len(order) > 0 {
		best := order[0]
		keep = append(keep, best)
		if len(order) == 1 {
			break
		}

		rest := make([]XYXY, len(order)-1)
		for k, idx := range order[1:] {
			rest[k] = boxes[idx]
		}
		ious := IoUMatrix([]XYXY{boxes[best]}, rest)

		remaining := make([]int, 0, len(order)-1)
		for k, idx := range order[1:] {
			if ious.At(0, k) <= iouThres {
				remaining = append(remaining, idx)
			}
		}
		order = remaining
	}
	return keep
}
