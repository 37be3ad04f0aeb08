package rerank

import (
	"math"
	"sort"
)

// zscore 标准化；方差为 0 时全部为 0
func zscore(xs []float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	std := math.Sqrt(variance / float64(len(xs)))
	if std == 0 {
		return out
	}
	for i, x := range xs {
		out[i] = (x - mean) / std
	}
	return out
}

// ZScoreFuse 融合相似度与重排分数：alpha*sim_z + (1-alpha)*rerank_z。
// 返回按融合分数降序排列的下标（稳定排序）以及对应的融合分数。
func ZScoreFuse(similarities, rerankScores []float64, alpha float64) ([]int, []float64) {
	n := len(similarities)
	if len(rerankScores) < n {
		n = len(rerankScores)
	}
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	simZ := zscore(similarities[:n])
	rrZ := zscore(rerankScores[:n])
	fused := make([]float64, n)
	order := make([]int, n)
	for i := 0; i < n; i++ {
		fused[i] = alpha*simZ[i] + (1-alpha)*rrZ[i]
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return fused[order[a]] > fused[order[b]] })
	return order, fused
}
