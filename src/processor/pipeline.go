// pipeline.go
package processor

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-gota/gota/dataframe"
)

// ErrNotReady 两份数据源尚未齐备，派生视图不可用
var ErrNotReady = errors.New("精度表与覆盖表尚未全部加载")

// Analyzer 串起 加载→合并→(相关性/过滤/聚合) 的完整管线。
// 每次触发（上传、目录监控、邮件轮询、HTTP 查询）跑一轮，
// 各阶段只读输入、返回新表，阶段内部无锁
type Analyzer struct {
	ds         *Dataset
	cache      *MergeCache
	routeLimit int

	// 写锁串行化装载与重建合并表，读锁保证快照读到的
	// 各张表来自同一轮装载，不会混搭新旧数据
	mu      sync.RWMutex
	accHash string
	covHash string
}

// Result 一次管线运行的全部派生结果
type Result struct {
	Merged           dataframe.DataFrame // 过滤后的合并表（保留哨兵行并带匹配标记）
	Accuracy         dataframe.DataFrame // 过滤后的精度表
	Coverage         dataframe.DataFrame // 过滤后的覆盖表
	AccuracyByBucket dataframe.DataFrame
	AccuracyByRoute  dataframe.DataFrame
	CoverageByPeriod dataframe.DataFrame
	CoverageByRoute  dataframe.DataFrame
	Correlation      CorrelationResult
	Selection        FilterSelection
}

func NewAnalyzer(routeLimit int) *Analyzer {
	return &Analyzer{
		ds:         NewDataset(),
		cache:      NewMergeCache(),
		routeLimit: routeLimit,
	}
}

// LoadAccuracy 装入精度表。hash 为输入源内容摘要，用于合并缓存
func (a *Analyzer) LoadAccuracy(df dataframe.DataFrame, hash string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ds.SetAccuracy(df)
	a.accHash = hash
	return a.remerge()
}

// LoadCoverage 装入覆盖表，同时生成 route→routeID 的合并视图
func (a *Analyzer) LoadCoverage(df dataframe.DataFrame, hash string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	renamed, err := RenameCoverageKey(df)
	if err != nil {
		return err
	}
	a.ds.SetCoverage(df, renamed)
	a.covHash = hash
	return a.remerge()
}

// remerge 两表齐备后重建合并表，命中缓存时跳过连接。调用方持有 a.mu
func (a *Analyzer) remerge() error {
	if !a.ds.Ready() {
		return nil
	}

	if merged, ok := a.cache.Get(a.accHash, a.covHash); ok {
		a.ds.SetMerged(merged)
		return nil
	}

	merged, err := MergeTables(a.ds.Accuracy(), a.ds.CoverageRenamed())
	if err != nil {
		return fmt.Errorf("重建合并表失败: %w", err)
	}

	a.cache.Put(a.accHash, a.covHash, merged)
	a.ds.SetMerged(merged)
	return nil
}

// Ready 派生视图是否可用
func (a *Analyzer) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.ds.Ready()
}

// Snapshot 按筛选条件产出一轮完整结果。sel 为 nil 时使用默认筛选
func (a *Analyzer) Snapshot(sel *FilterSelection) (*Result, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	merged, ok := a.ds.Merged()
	if !ok {
		return nil, ErrNotReady
	}

	selection := FilterSelection{}
	if sel != nil {
		selection = *sel
	} else {
		selection = DefaultSelection(merged, a.routeLimit)
	}

	accFiltered := ApplyFilter(a.ds.Accuracy(), ColRouteID, selection)
	covFiltered := ApplyFilter(a.ds.Coverage(), ColRoute, selection)
	mergedFiltered := ApplyFilter(merged, ColRouteID, selection)

	return &Result{
		Merged:           mergedFiltered,
		Accuracy:         accFiltered,
		Coverage:         covFiltered,
		AccuracyByBucket: AccuracyByTimeBucket(accFiltered),
		AccuracyByRoute:  AccuracyByRoute(accFiltered),
		CoverageByPeriod: CoverageByPeriod(covFiltered),
		CoverageByRoute:  CoverageByRoute(covFiltered),
		Correlation:      AnalyzeCorrelation(mergedFiltered),
		Selection:        selection,
	}, nil
}

// FilterOptions 供筛选控件使用的候选值：全部时段 + 字典序线路
func (a *Analyzer) FilterOptions() (periods, routes []string, err error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	merged, ok := a.ds.Merged()
	if !ok {
		return nil, nil, ErrNotReady
	}

	periods = DistinctValues(merged, ColTimePeriod)
	// 候选线路给全量（默认选中才截断到前 10），字典序便于控件展示
	routes = DistinctValues(merged, ColRouteID)
	sort.Strings(routes)
	return periods, routes, nil
}

// DefaultFilter 默认筛选条件：全部时段 + 字典序前 N 条线路
func (a *Analyzer) DefaultFilter() FilterSelection {
	a.mu.RLock()
	defer a.mu.RUnlock()

	merged, ok := a.ds.Merged()
	if !ok {
		return FilterSelection{}
	}
	return DefaultSelection(merged, a.routeLimit)
}

// RawAccuracy 精度表原始数据，最多 limit 行
func (a *Analyzer) RawAccuracy(limit int) (dataframe.DataFrame, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.ds.Ready() {
		return dataframe.New(), ErrNotReady
	}
	return headRows(a.ds.Accuracy(), limit), nil
}

// RawCoverage 覆盖表原始数据，最多 limit 行
func (a *Analyzer) RawCoverage(limit int) (dataframe.DataFrame, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.ds.Ready() {
		return dataframe.New(), ErrNotReady
	}
	return headRows(a.ds.Coverage(), limit), nil
}

// headRows 取前 limit 行，limit<=0 表示不截断
func headRows(df dataframe.DataFrame, limit int) dataframe.DataFrame {
	if limit <= 0 || df.Nrow() <= limit {
		return df
	}
	idx := make([]int, limit)
	for i := range idx {
		idx[i] = i
	}
	return df.Subset(idx)
}
