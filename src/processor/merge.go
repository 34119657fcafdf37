// merge.go
package processor

import (
	"fmt"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// DedupCoverage 按 (routeID, timePeriod) 去重，保留首次出现的行。
// 覆盖表按约定每个键至多一行，若上游给出重复键，左连接会把精度行
// 扇出成多行，破坏行数不变式，这里显式取首行消除歧义
func DedupCoverage(cov dataframe.DataFrame) dataframe.DataFrame {
	if cov.Nrow() == 0 {
		return cov
	}

	routes := cov.Col(ColRouteID).Records()
	periods := cov.Col(ColTimePeriod).Records()

	seen := make(map[string]bool, cov.Nrow())
	keep := make([]int, 0, cov.Nrow())
	for i := 0; i < cov.Nrow(); i++ {
		key := routes[i] + "\x00" + periods[i]
		if seen[key] {
			continue
		}
		seen[key] = true
		keep = append(keep, i)
	}

	if len(keep) == cov.Nrow() {
		return cov
	}
	return cov.Subset(keep)
}

// MergeTables 精度表左连接覆盖表(已重命名为 routeID)，连接键
// (routeID, timePeriod)。未匹配行的 fractionTrackedExplained 填哨兵 -1，
// fractionOnFullyMissingTrips 保持缺失（两列处理方式不同，刻意保留）。
// 不变式：输出行数与精度表行数严格一致
func MergeTables(acc, covRenamed dataframe.DataFrame) (dataframe.DataFrame, error) {
	if acc.Nrow() == 0 {
		return acc, nil
	}

	// 只取合并需要的四列
	proj := covRenamed.Select([]string{
		ColRouteID, ColTimePeriod, ColFractionTracked, ColFractionMissing,
	})
	if proj.Err != nil {
		return dataframe.New(), fmt.Errorf("覆盖表列投影失败: %w", proj.Err)
	}

	proj = DedupCoverage(proj)

	merged := acc.LeftJoin(proj, ColRouteID, ColTimePeriod)
	if merged.Err != nil {
		return merged, fmt.Errorf("左连接失败: %w", merged.Err)
	}

	// 哨兵填充与匹配标记
	tracked := merged.Col(ColFractionTracked)
	filled := make([]float64, merged.Nrow())
	matched := make([]bool, merged.Nrow())
	for i := 0; i < merged.Nrow(); i++ {
		el := tracked.Elem(i)
		if el.IsNA() {
			filled[i] = SentinelNoCoverage
			continue
		}
		filled[i] = el.Float()
		matched[i] = true
	}
	merged = merged.Mutate(series.New(filled, series.Float, ColFractionTracked))
	merged = merged.Mutate(series.New(matched, series.Bool, ColCoverageMatched))
	if merged.Err != nil {
		return merged, fmt.Errorf("哨兵列写入失败: %w", merged.Err)
	}

	if merged.Nrow() != acc.Nrow() {
		return merged, fmt.Errorf("合并行数 %d 与精度表行数 %d 不一致", merged.Nrow(), acc.Nrow())
	}

	return merged, nil
}
