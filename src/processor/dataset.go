// dataset.go
package processor

import (
	"fmt"
	"sync"

	"github.com/go-gota/gota/dataframe"
)

/******************** 列名常量 ********************/

// 两份数据源的列名是固定契约，精度表与覆盖表的线路列名不一致
// (routeID / route)，合并前需要显式重命名
const (
	ColRouteID          = "routeID"
	ColRoute            = "route"
	ColTimePeriod       = "timePeriod"
	ColTimeBucket       = "Time Bucket"
	ColAccuratePct      = "accurate_pct"
	ColEarlyPct         = "early_pct"
	ColLatePct          = "late_pct"
	ColTotalPredictions = "totalPredictions"
	ColFractionTracked  = "fractionTrackedExplained"
	ColFractionMissing  = "fractionOnFullyMissingTrips"

	// 合并表附加列：该行是否匹配到覆盖数据
	ColCoverageMatched = "coverageMatched"
)

// SentinelNoCoverage 覆盖数据缺失哨兵值，有效覆盖率在 [0,1] 内，-1 可区分
const SentinelNoCoverage = -1.0

// 必需列，加载时校验
var (
	AccuracyRequiredColumns = []string{
		ColRouteID, ColTimePeriod, ColTimeBucket,
		ColAccuratePct, ColEarlyPct, ColLatePct, ColTotalPredictions,
	}
	CoverageRequiredColumns = []string{
		ColRoute, ColTimePeriod, ColFractionTracked, ColFractionMissing,
	}
)

// MissingColumns 返回 df 中缺失的必需列
func MissingColumns(df dataframe.DataFrame, required []string) []string {
	have := make(map[string]bool, len(df.Names()))
	for _, n := range df.Names() {
		have[n] = true
	}

	var missing []string
	for _, col := range required {
		if !have[col] {
			missing = append(missing, col)
		}
	}
	return missing
}

// RenameCoverageKey 覆盖表 route 列重命名为 routeID，生成可合并视图
// 原表（列名 route）保持不变，覆盖维度的聚合仍使用原表
func RenameCoverageKey(cov dataframe.DataFrame) (dataframe.DataFrame, error) {
	if len(MissingColumns(cov, []string{ColRoute})) > 0 {
		return dataframe.New(), fmt.Errorf("覆盖表缺少 %s 列，无法重命名", ColRoute)
	}
	renamed := cov.Rename(ColRouteID, ColRoute)
	if renamed.Err != nil {
		return renamed, fmt.Errorf("重命名 %s -> %s 失败: %w", ColRoute, ColRouteID, renamed.Err)
	}
	return renamed, nil
}

/******************** 数据集 ********************/

// Dataset 持有当前加载的各张表，表一旦生成不再修改，只做整体替换
type Dataset struct {
	mu sync.RWMutex

	accuracy        dataframe.DataFrame // 精度表(原始)
	coverage        dataframe.DataFrame // 覆盖表(原始，列名 route)
	coverageRenamed dataframe.DataFrame // 覆盖表(route→routeID)
	merged          dataframe.DataFrame // 左连接结果

	accLoaded bool
	covLoaded bool
	mergedOK  bool
}

func NewDataset() *Dataset {
	return &Dataset{}
}

// SetAccuracy 整体替换精度表
func (ds *Dataset) SetAccuracy(df dataframe.DataFrame) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.accuracy = df
	ds.accLoaded = true
	ds.mergedOK = false
}

// SetCoverage 整体替换覆盖表，同时生成重命名视图
func (ds *Dataset) SetCoverage(df, renamed dataframe.DataFrame) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.coverage = df
	ds.coverageRenamed = renamed
	ds.covLoaded = true
	ds.mergedOK = false
}

// SetMerged 记录合并结果
func (ds *Dataset) SetMerged(df dataframe.DataFrame) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.merged = df
	ds.mergedOK = true
}

// Ready 两份数据源是否均已加载
func (ds *Dataset) Ready() bool {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.accLoaded && ds.covLoaded
}

// Accuracy 精度表快照
func (ds *Dataset) Accuracy() dataframe.DataFrame {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.accuracy
}

// Coverage 覆盖表快照(原始列名)
func (ds *Dataset) Coverage() dataframe.DataFrame {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.coverage
}

// CoverageRenamed 覆盖表快照(route→routeID)
func (ds *Dataset) CoverageRenamed() dataframe.DataFrame {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.coverageRenamed
}

// Merged 合并表快照，第二返回值表示合并结果是否有效
func (ds *Dataset) Merged() (dataframe.DataFrame, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.merged, ds.mergedOK
}
