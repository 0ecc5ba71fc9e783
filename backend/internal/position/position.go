// Package position 实现可排序集合的小数排序键分配。
// 在两个相邻项之间插入只需要取中点，不用给后面的项整体重新编号；
// 只有在浮点精度耗尽时才触发一次整列重排（renormalize）。
package position

// Step 是头尾插入与重排时使用的整数步长。
const Step = 1.0

// First 是空集合里第一个元素的默认位置。
const First = 1.0

// Allocate 在 prev 与 next 之间分配一个新位置。
// prev/next 任一可为 nil，表示插到头部/尾部。
// 返回 ok=false 表示两侧太近、取不出一个严格居中的新浮点数
// （精度耗尽），调用方应先 renormalize 整个集合再重试一次。
func Allocate(prev, next *float64) (pos float64, ok bool) {
	switch {
	case prev == nil && next == nil:
		return First, true
	case prev == nil:
		return *next - Step, true
	case next == nil:
		return *prev + Step, true
	}
	mid := *prev + (*next-*prev)/2
	// 中点必须严格落在开区间 (prev, next) 内，否则视为精度耗尽。
	if mid <= *prev || mid >= *next {
		return 0, false
	}
	return mid, true
}

// Renormalized 返回按 Step 整数倍重新编号后的位置序列（1, 2, 3, ...），
// 输入按现有顺序给出。重排后相邻位置间距恢复为 Step，可继续二分很多轮。
func Renormalized(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = First + Step*float64(i)
	}
	return out
}
