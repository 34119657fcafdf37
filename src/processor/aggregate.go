// aggregate.go
package processor

import (
	"math"
	"sort"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// GroupMeans 按 keyCol 分组对 valueCols 求算术平均。
// 分组顺序为键值首次出现顺序（gota 的 GroupBy 经 map 迭代，顺序
// 不稳定，所以这里按行累加）。某组某列全部缺失时均值为缺失。
// 输入为空表时返回空结果，不报错
func GroupMeans(df dataframe.DataFrame, keyCol string, valueCols []string) dataframe.DataFrame {
	if df.Nrow() == 0 {
		return dataframe.New()
	}

	keys := df.Col(keyCol).Records()
	valSeries := make([]series.Series, len(valueCols))
	for j, col := range valueCols {
		valSeries[j] = df.Col(col)
	}

	var order []string
	sums := make(map[string][]float64)
	counts := make(map[string][]int)

	for i := 0; i < df.Nrow(); i++ {
		k := keys[i]
		if _, ok := sums[k]; !ok {
			order = append(order, k)
			sums[k] = make([]float64, len(valueCols))
			counts[k] = make([]int, len(valueCols))
		}
		for j := range valueCols {
			el := valSeries[j].Elem(i)
			if el.IsNA() {
				continue
			}
			sums[k][j] += el.Float()
			counts[k][j]++
		}
	}

	cols := make([]series.Series, 0, len(valueCols)+1)
	cols = append(cols, series.New(order, series.String, keyCol))
	for j, col := range valueCols {
		means := make([]float64, len(order))
		for i, k := range order {
			if counts[k][j] == 0 {
				means[i] = math.NaN()
				continue
			}
			means[i] = sums[k][j] / float64(counts[k][j])
		}
		cols = append(cols, series.New(means, series.Float, col))
	}

	return dataframe.New(cols...)
}

// groupMeansSorted 分组求均值后按均值列降序
func groupMeansSorted(df dataframe.DataFrame, keyCol, valueCol string) dataframe.DataFrame {
	out := GroupMeans(df, keyCol, []string{valueCol})
	if out.Nrow() == 0 {
		return out
	}

	// 稳定排序，缺失均值排在末尾
	keys := out.Col(keyCol).Records()
	vals := out.Col(valueCol).Float()
	idx := make([]int, len(keys))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := vals[idx[a]], vals[idx[b]]
		if math.IsNaN(va) {
			return false
		}
		if math.IsNaN(vb) {
			return true
		}
		return va > vb
	})

	return out.Subset(idx)
}

// AccuracyByTimeBucket 按 Time Bucket 分组的准确/提前/延后均值
func AccuracyByTimeBucket(acc dataframe.DataFrame) dataframe.DataFrame {
	return GroupMeans(acc, ColTimeBucket, []string{ColAccuratePct, ColEarlyPct, ColLatePct})
}

// AccuracyByRoute 按线路分组的平均准确率，降序
func AccuracyByRoute(acc dataframe.DataFrame) dataframe.DataFrame {
	return groupMeansSorted(acc, ColRouteID, ColAccuratePct)
}

// CoverageByPeriod 按时段分组的平均覆盖率
func CoverageByPeriod(cov dataframe.DataFrame) dataframe.DataFrame {
	return GroupMeans(cov, ColTimePeriod, []string{ColFractionTracked})
}

// CoverageByRoute 按线路分组的平均覆盖率，降序
func CoverageByRoute(cov dataframe.DataFrame) dataframe.DataFrame {
	return groupMeansSorted(cov, ColRoute, ColFractionTracked)
}
